// Package chat defines the canonical conversation model shared by every
// platform adapter and by the dispatcher: authors, messages, attachments,
// outbound message builders and live thread handles. Values here are
// platform-neutral; anything platform-specific stays behind the Adapter
// interface.
package chat

// Author identifies who produced a message or interaction.
// It is an immutable value object; two authors are the same person iff
// their UserID matches within one platform.
type Author struct {
	// UserID is the platform-scoped, stable user identifier.
	UserID string `json:"user_id"`
	// UserName is the short handle (login) if the platform has one.
	UserName string `json:"user_name,omitempty"`
	// FullName is the display name if known.
	FullName string `json:"full_name,omitempty"`
	// IsBot is tri-state: nil means the platform could not determine it.
	IsBot *bool `json:"is_bot,omitempty"`
	// IsMe is true iff this author is the running bot on its platform.
	IsMe bool `json:"is_me,omitempty"`
}

// Bot wraps a bool for Author.IsBot.
func Bot(b bool) *bool { return &b }

// Same reports whether other refers to the same platform user.
func (a Author) Same(other Author) bool {
	return a.UserID != "" && a.UserID == other.UserID
}

// KnownBot returns (isBot, known). known is false when the platform
// could not determine bot-ness.
func (a Author) KnownBot() (bool, bool) {
	if a.IsBot == nil {
		return false, false
	}
	return *a.IsBot, true
}

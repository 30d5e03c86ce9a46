package chat

import "context"

// SentMessage is a Message bound to the adapter that produced it, so it
// can be edited, deleted and reacted to through the message's own
// id/thread id without the caller re-resolving the adapter.
type SentMessage struct {
	Message

	adapter Adapter
}

// NewSentMessage binds a message to its adapter. Adapters call this from
// PostMessage and FetchMessages; the adapter reference is borrowed.
func NewSentMessage(msg Message, adapter Adapter) *SentMessage {
	return &SentMessage{Message: msg, adapter: adapter}
}

// Adapter returns the adapter that produced this message.
func (s *SentMessage) Adapter() Adapter { return s.adapter }

// Edit replaces the message content.
func (s *SentMessage) Edit(ctx context.Context, msg *PostableMessage) error {
	return s.adapter.EditMessage(ctx, s.ThreadID, s.ID, msg)
}

// Delete removes the message from the platform.
func (s *SentMessage) Delete(ctx context.Context) error {
	return s.adapter.DeleteMessage(ctx, s.ThreadID, s.ID)
}

// AddReaction reacts to the message with a canonical emoji name.
func (s *SentMessage) AddReaction(ctx context.Context, emoji string) error {
	return s.adapter.AddReaction(ctx, s.ThreadID, s.ID, emoji)
}

// RemoveReaction removes a previously added reaction.
func (s *SentMessage) RemoveReaction(ctx context.Context, emoji string) error {
	return s.adapter.RemoveReaction(ctx, s.ThreadID, s.ID, emoji)
}

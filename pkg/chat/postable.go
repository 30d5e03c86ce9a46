package chat

// PostMode selects which payload a PostableMessage carries.
type PostMode string

const (
	ModeText      PostMode = "text"
	ModeMarkdown  PostMode = "markdown"
	ModeFormatted PostMode = "formatted"
	ModeCard      PostMode = "card"
	ModeRaw       PostMode = "raw"
	ModeStream    PostMode = "stream"
)

// Card is a structured rich-message payload. Adapters render it into the
// platform's native card/block format, dropping what the platform cannot
// express.
type Card struct {
	Title    string       `json:"title,omitempty"`
	Text     string       `json:"text,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	Fields   []CardField  `json:"fields,omitempty"`
	Buttons  []CardButton `json:"buttons,omitempty"`
}

// CardField is a labeled value shown in a card body.
type CardField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CardButton is an interactive button; clicking it produces an action
// event with the given ActionID and Value.
type CardButton struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
	Value    string `json:"value,omitempty"`
}

// PostableMessage is a write-only builder for an outbound message.
// Exactly one payload mode is meaningful per instance; construction goes
// through the Text/Markdown/Formatted/CardMessage/RawMessage/Stream
// factories, which is what enforces that.
type PostableMessage struct {
	mode        PostMode
	text        string
	formatted   any
	card        *Card
	raw         any
	stream      <-chan string
	attachments []Attachment
}

// Text builds a plain-text message.
func Text(s string) *PostableMessage {
	return &PostableMessage{mode: ModeText, text: s}
}

// Markdown builds a message whose text is canonical markdown; adapters
// convert it to their platform dialect.
func Markdown(s string) *PostableMessage {
	return &PostableMessage{mode: ModeMarkdown, text: s}
}

// Formatted builds a message from a pre-formatted AST or platform-neutral
// tree the adapter knows how to print.
func Formatted(ast any) *PostableMessage {
	return &PostableMessage{mode: ModeFormatted, formatted: ast}
}

// CardMessage builds a rich card message.
func CardMessage(c *Card) *PostableMessage {
	return &PostableMessage{mode: ModeCard, card: c}
}

// RawMessage builds a message from a raw platform-native payload. Only
// the adapter whose payload shape it matches can post it.
func RawMessage(payload any) *PostableMessage {
	return &PostableMessage{mode: ModeRaw, raw: payload}
}

// Stream builds a message fed by a sequence of text chunks. Adapters that
// support streaming append/edit as chunks arrive; others concatenate and
// post once the channel closes.
func Stream(chunks <-chan string) *PostableMessage {
	return &PostableMessage{mode: ModeStream, stream: chunks}
}

// WithAttachments adds file attachments and returns the builder.
func (p *PostableMessage) WithAttachments(atts ...Attachment) *PostableMessage {
	p.attachments = append(p.attachments, atts...)
	return p
}

func (p *PostableMessage) Mode() PostMode            { return p.mode }
func (p *PostableMessage) Text() string              { return p.text }
func (p *PostableMessage) FormattedPayload() any     { return p.formatted }
func (p *PostableMessage) Card() *Card               { return p.card }
func (p *PostableMessage) Raw() any                  { return p.raw }
func (p *PostableMessage) Chunks() <-chan string     { return p.stream }
func (p *PostableMessage) Attachments() []Attachment { return p.attachments }

package services

import "context"

// SendMode selects how an outgoing message is delivered
type SendMode int

const (
	// SendNew always posts a new message
	SendNew SendMode = iota
	// SendEditIfPossible edits MessageID in place and falls back to a new message
	SendEditIfPossible
)

// Button is an inline keyboard button. Either Action or URL is set.
type Button struct {
	Text   string
	Action string
	URL    string
}

// OutgoingMessage is a text message with an optional inline keyboard
type OutgoingMessage struct {
	ChatID    int64
	Text      string
	Keyboard  [][]Button
	Mode      SendMode
	MessageID int
}

// Messenger delivers messages to the chat transport
type Messenger interface {
	// Send delivers msg and returns the id of the resulting message
	Send(ctx context.Context, msg OutgoingMessage) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Chat identifies the conversation an inbound event came from
type Chat struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Language  string
}

func row(buttons ...Button) []Button {
	return buttons
}

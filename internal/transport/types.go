// Package transport is the messaging-provider contract used by broadcasts
// and link registration.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRecipientRejected means the provider refused delivery to this chat:
// unknown chat, bot blocked, or the user never started a conversation.
// Retrying the same chat will not help; a different channel might.
var ErrRecipientRejected = errors.New("transport: recipient rejected")

// FloodError means the provider throttled the sender. The same request may
// succeed once RetryAfter has passed.
type FloodError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("transport: flood control, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *FloodError) Unwrap() error { return e.Err }

// RetryAfter returns the wait requested by a FloodError anywhere in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) {
		return fe.RetryAfter, true
	}
	return 0, false
}

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateMembership UpdateKind = "membership"
)

// ChatType mirrors the provider's chat classification.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Private reports whether the chat is one-to-one.
func (t ChatType) Private() bool { return t == ChatPrivate }

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Membership *Membership
}

type Message struct {
	ID           int
	ChatID       int64
	ChatType     ChatType
	ChatTitle    string
	FromID       int64
	FromUsername string
	Text         string
}

// Membership reports the bot being added to or removed from a chat.
type Membership struct {
	ChatID    int64
	ChatType  ChatType
	ChatTitle string
	Active    bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

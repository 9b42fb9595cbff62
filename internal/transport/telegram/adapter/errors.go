package adapter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"kolpulse/internal/transport"
)

var rejections = []error{
	tele.ErrChatNotFound,
	tele.ErrBlockedByUser,
	tele.ErrNotStartedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
}

var rejectionPhrases = []string{
	"chat not found",
	"bot was blocked",
	"can't initiate conversation",
	"user is deactivated",
	"bot was kicked",
	"not a member",
}

// classify maps Telegram delivery refusals onto transport.ErrRecipientRejected
// and flood control onto *transport.FloodError. Everything else is returned
// unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.FloodError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return fmt.Errorf("%w: %w", transport.ErrRecipientRejected, err)
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rejectionPhrases {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %w", transport.ErrRecipientRejected, err)
		}
	}
	return err
}

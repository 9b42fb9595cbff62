package refresh

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCooldown      = errors.New("refresh: post refreshed too recently")
	ErrNoExternalRef = errors.New("refresh: post has no external url or id")
)

// CooldownError carries how long the caller must wait before retrying.
type CooldownError struct {
	PostID     int64
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("refresh: post %d in cooldown, retry after %s", e.PostID, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

package reconcile

import (
	"errors"
	"fmt"

	"wachat/internal/entity"
)

var (
	ErrNoConversation = fmt.Errorf("%w: no conversation selected", entity.ErrValidation)
	ErrDisconnected   = errors.New("reconcile: not connected")
)

// UnsentError is returned by SendLocal when the backend rejected or never
// received the message. Text is what the user typed, for a retry prompt.
type UnsentError struct {
	Text string
	Err  error
}

func (e *UnsentError) Error() string {
	return fmt.Sprintf("message not sent: %v", e.Err)
}

func (e *UnsentError) Unwrap() error {
	return e.Err
}

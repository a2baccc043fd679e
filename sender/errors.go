package sender

import "fmt"

// FatalError wraps the transport failure that drained every pending
// request at once. Every
// outstanding and future Invoke on this Sender fails with a FatalError
// wrapping the same underlying cause; callers must discard the Sender and
// build a fresh one (new connection, new Session, new Request queue).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("sender: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// ErrClosed is returned by Invoke once Stop has been called.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "sender: closed" }

package session

import "fmt"

// Kind categorizes coordinator errors.
type Kind string

const (
	// KindTransport covers channel and handshake failures. Fatal to the
	// session; everything else leaves the session usable.
	KindTransport Kind = "transport"
	// KindStall covers missing completion signals recovered by timeout.
	KindStall Kind = "stall"
	// KindActionDispatch covers failed side-effect handlers.
	KindActionDispatch Kind = "action_dispatch"
	// KindPersistence covers failed save/summary calls.
	KindPersistence Kind = "persistence"
)

// Error is a typed coordinator error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error must end the session.
func (e *Error) Fatal() bool { return e.Kind == KindTransport }

func newTransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func newStallError(message string) *Error {
	return &Error{Kind: KindStall, Message: message}
}

func newActionDispatchError(message string, err error) *Error {
	return &Error{Kind: KindActionDispatch, Message: message, Err: err}
}

func newPersistenceError(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrOutOfOrder is returned by the book when a message does not follow the
	// last applied sequence. The book is left unchanged; resync.
	ErrOutOfOrder = errors.New("book: out of order sequence")

	// ErrCrossed is returned when an update would leave best bid >= best ask.
	// The update is discarded; resync.
	ErrCrossed = errors.New("book: crossed book")

	// ErrInsufficientLiquidity means the book cannot fill the requested quantity.
	ErrInsufficientLiquidity = errors.New("cost: insufficient liquidity")

	// ErrEmptyBook is returned when a reference price is needed and a side is empty.
	ErrEmptyBook = errors.New("cost: empty book")

	// ErrProtocolViolation marks a malformed or unexpected feed frame.
	ErrProtocolViolation = errors.New("feed: protocol violation")

	// ErrConnectionLost is returned when the feed stream ends or fails.
	ErrConnectionLost = errors.New("feed: connection lost")

	// ErrResyncTimeout is returned when no snapshot arrives within the resync timeout.
	ErrResyncTimeout = errors.New("feed: resync timeout")

	// ErrSessionRunning is returned by Start on an already started session.
	ErrSessionRunning = errors.New("session already running")
)

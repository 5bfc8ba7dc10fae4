package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaPermissionDenied means the user or OS refused camera/microphone
	// access. Not retried automatically.
	ErrMediaPermissionDenied = errors.New("media permission denied")
	// ErrMediaDeviceNotFound means no device exists for the requested modality.
	ErrMediaDeviceNotFound = errors.New("media device not found")
	// ErrMediaUnknown is any other capture failure.
	ErrMediaUnknown = errors.New("media capture failed")
	// ErrSignalingTransport is a relay send or subscribe failure. Retryable.
	ErrSignalingTransport = errors.New("signaling transport error")
	// ErrPeerConnectionFailed ends the session; a manual restart is required.
	ErrPeerConnectionFailed = errors.New("peer connection failed")
	// ErrStaleOrDuplicateSignal marks a signal that was ignored.
	ErrStaleOrDuplicateSignal = errors.New("stale or duplicate signal")

	ErrSessionClosed  = errors.New("call session closed")
	ErrAlreadyStarted = errors.New("call session already started")
	ErrSessionActive  = errors.New("another call session is active")
)

// ErrorKind classifies a CallError.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMediaPermissionDenied
	KindMediaDeviceNotFound
	KindMediaUnknown
	KindSignalingTransport
	KindPeerConnectionFailed
	KindStaleOrDuplicateSignal
)

var kindSentinels = map[ErrorKind]error{
	KindMediaPermissionDenied:  ErrMediaPermissionDenied,
	KindMediaDeviceNotFound:    ErrMediaDeviceNotFound,
	KindMediaUnknown:           ErrMediaUnknown,
	KindSignalingTransport:     ErrSignalingTransport,
	KindPeerConnectionFailed:   ErrPeerConnectionFailed,
	KindStaleOrDuplicateSignal: ErrStaleOrDuplicateSignal,
}

func (k ErrorKind) String() string {
	if s, ok := kindSentinels[k]; ok {
		return s.Error()
	}
	return "unknown error"
}

// CallError is the error surfaced to the UI through lastError.
type CallError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewCallError wraps err with a taxonomy kind and the failing operation.
func NewCallError(kind ErrorKind, op string, err error) *CallError {
	return &CallError{Kind: kind, Op: op, Err: err}
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the sentinel for the kind and the cause.
func (e *CallError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

// Retryable reports whether the UI may offer an automatic retry for err.
// Permission and peer-connection failures need user action instead.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSignalingTransport, KindMediaUnknown:
		return true
	}
	return false
}

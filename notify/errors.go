package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass buckets failures by the recovery action they map to. No class is
// fatal to the process; the only fatal startup error is the messaging
// connection, handled in main.
type ErrorClass string

const (
	// ClassTransientAPI covers network failures and 5xx responses from either
	// platform. Recovery is the normal scheduling/backoff path.
	ClassTransientAPI ErrorClass = "transient_api"
	// ClassNotYetAvailable is the valid "not found yet" outcome where a push
	// event outruns backend metadata. Recovery is the one-shot enrichment retry.
	ClassNotYetAvailable ErrorClass = "not_yet_available"
	// ClassMalformedPayload marks inbound payloads dropped after acknowledgement.
	ClassMalformedPayload ErrorClass = "malformed_payload"
	// ClassPersistence marks snapshot load/save failures; processing continues
	// on in-memory state.
	ClassPersistence ErrorClass = "persistence_unavailable"
	// ClassHandshake marks subscription create/renew failures against a hub.
	ClassHandshake ErrorClass = "subscription_handshake"
)

// ErrNotYetAvailable signals that the platform has no metadata for a stream
// reference yet.
var ErrNotYetAvailable = errors.New("stream metadata not yet available")

// ClassifiedError tags an error with an explicit class at the call site.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// WithClass wraps err with an explicit class.
func WithClass(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// Classify maps an error to its recovery bucket. Anything unrecognized counts
// as transient, so unexpected API failures degrade to delayed detection rather
// than dropped monitoring.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotYetAvailable) {
		return ClassNotYetAvailable
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransientAPI
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientAPI
	}
	return ClassTransientAPI
}

package exchange

import (
	"errors"
	"fmt"
)

// Kind is the closed classification of venue failures. Adapters map
// raw venue errors into a Kind at the boundary; the execution pipeline
// switches on it and never inspects free-text messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNetworkTransient covers timeouts, connection resets and
	// rate limiting. Safe to retry within the attempt budget.
	KindNetworkTransient
	// KindVenueReject is a terminal, semantically meaningful venue
	// error: bad symbol, insufficient funds, invalid parameters.
	KindVenueReject
	// KindDuplicateSubmission means the venue already holds an order
	// with this client order id. Triggers reconciliation.
	KindDuplicateSubmission
)

func (k Kind) String() string {
	switch k {
	case KindNetworkTransient:
		return "network_transient"
	case KindVenueReject:
		return "venue_reject"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	default:
		return "unknown"
	}
}

// Error is a classified venue failure.
type Error struct {
	Kind  Kind
	Venue string
	Code  int
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %s", e.Venue, e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error from a venue error code/message.
func NewError(kind Kind, venue string, code int, msg string) *Error {
	return &Error{Kind: kind, Venue: venue, Code: code, Msg: msg}
}

// WrapTransport classifies a transport-level failure (dial, timeout,
// body read) as network-transient.
func WrapTransport(venue string, err error) *Error {
	return &Error{Kind: KindNetworkTransient, Venue: venue, Msg: err.Error(), Cause: err}
}

// KindOf extracts the classification from err, or KindUnknown when the
// error did not come from an adapter.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err may be retried.
func Retryable(err error) bool {
	return KindOf(err) == KindNetworkTransient
}

// IsDuplicate reports whether err indicates the venue already saw this
// client order id.
func IsDuplicate(err error) bool {
	return KindOf(err) == KindDuplicateSubmission
}

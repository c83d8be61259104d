package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy for the delivery pipeline.
var (
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMalformedRequest = errors.New("malformed request")

	// ErrTransientUpstream is returned once server-side failures exhaust the retry budget.
	ErrTransientUpstream = errors.New("transient upstream failure")
	// ErrPermanentUpstream marks a request the destination rejected as invalid.
	ErrPermanentUpstream = errors.New("permanent upstream failure")
)

// DeliveryRecord is the audit trail of one webhook delivery. It never holds
// message text, URLs or captions.
type DeliveryRecord struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	RouteKey    string    `json:"route_key"`
	Destination string    `json:"destination"`
	Photos      int       `json:"photos"`
	Documents   int       `json:"documents"`
	Chunks      int       `json:"chunks"`
	Outcome     string    `json:"outcome"` // ok | failed
	ErrorClass  string    `json:"error_class,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// AuditLogger is the interface for writing delivery audit entries.
type AuditLogger interface {
	LogDelivery(ctx context.Context, rec DeliveryRecord) error
}

// ErrorClass maps an error to a short, content-free label for audit and metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermanentUpstream):
		return "permanent_upstream"
	case errors.Is(err, ErrTransientUpstream):
		return "transient_upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

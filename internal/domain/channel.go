package domain

import "context"

// Deliverer sends a parsed message to a resolved destination.
type Deliverer interface {
	Deliver(ctx context.Context, destination string, msg ParsedMessage) (DeliveryReport, error)
}

// DeliveryReport counts the outbound operations that succeeded for one message.
type DeliveryReport struct {
	Photos    int // individual photos, including every item of a media group
	Documents int
	Chunks    int
}

// Sent returns the total number of items delivered.
func (r DeliveryReport) Sent() int {
	return r.Photos + r.Documents + r.Chunks
}

// Package escrow tracks funds locked against marketplace operations and
// settles them to the parties once the work they back is resolved.
package escrow

import "time"

// Operation is one escrow position. Each operation id is locked at most
// once and released at most once.
type Operation struct {
	ID         string     `json:"id"`
	Payer      int64      `json:"payer"`
	Amount     int64      `json:"amount"`
	Released   bool       `json:"released"`
	LockedAt   time.Time  `json:"locked_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Status summarizes the ledger for the admin surface.
type Status struct {
	ServiceMode bool  `json:"service_mode"`
	OpenCount   int   `json:"open_count"`
	OpenAmount  int64 `json:"open_amount"`
}

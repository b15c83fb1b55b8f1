package models

import (
	"time"
)

// Location is the resolved geographic result for one IP address.
// There is at most one Location per distinct address; a second resolution
// attempt for an already-resolved address is skipped, never inserted.
// Partial results are still successes: any subfield the resolver did not
// return stays nil and propagates as NULL.
type Location struct {
	IPAddress  string    `json:"ip_address"`
	City       *string   `json:"city,omitempty"`
	State      *string   `json:"state,omitempty"`
	ZipCode    *string   `json:"zip_code,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

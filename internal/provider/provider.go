// Package provider wraps the DNS provider API behind a small typed client.
//
// The reconciler core only ever talks to the Client interface,
// so tests can substitute fakes and the Cloudflare dependency stays
// contained in this package.
package provider

import "context"

// Zone is a provider-managed domain boundary containing records.
type Zone struct {
	ID   string
	Name string
}

// Record is the subset of DNS record fields the reconciler cares about.
type Record struct {
	ID      string
	Name    string
	Type    string // "A" or "AAAA"
	Content string
	Proxied bool
	TTL     int
}

// Client executes reads and writes against the DNS provider.
//
// Every method returns a *Error on failure so callers can branch on Kind.
type Client interface {
	// ListZones returns all zones visible to the credential.
	ListZones(ctx context.Context) ([]Zone, error)
	// ListRecords returns records in zoneID matching (name, recordType) exactly.
	ListRecords(ctx context.Context, zoneID, name, recordType string) ([]Record, error)
	// CreateRecord creates a new record in zoneID.
	CreateRecord(ctx context.Context, zoneID string, record Record) error
	// UpdateRecord rewrites the record identified by record.ID.
	UpdateRecord(ctx context.Context, zoneID string, record Record) error
}

package reconcile

import (
	"net/netip"
	"testing"
	"time"

	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
)

func addr4(t *testing.T, s string) detect.Address {
	t.Helper()
	return detect.Address{
		Addr:       netip.MustParseAddr(s),
		Family:     detect.IPv4,
		Source:     "test",
		DetectedAt: time.Now(),
	}
}

func TestDecideCreatesWhenRecordAbsent(t *testing.T) {
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), nil, true, 60)
	if d.Action != ActionCreate {
		t.Fatalf("expected create, got %s", d.Action)
	}
	if d.Desired.Content != "203.0.113.9" {
		t.Fatalf("unexpected desired content %q", d.Desired.Content)
	}
	if d.Desired.Type != "A" {
		t.Fatalf("unexpected desired type %q", d.Desired.Type)
	}
}

func TestDecideUpdatesOnContentChange(t *testing.T) {
	existing := &provider.Record{ID: "rec-1", Name: "a.example.com", Type: "A", Content: "203.0.113.1", Proxied: true}
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), existing, true, 60)
	if d.Action != ActionUpdate {
		t.Fatalf("expected update, got %s", d.Action)
	}
	if d.Desired.ID != "rec-1" {
		t.Fatalf("update must target the existing record, got ID %q", d.Desired.ID)
	}
	if d.Desired.Content != "203.0.113.9" {
		t.Fatalf("unexpected desired content %q", d.Desired.Content)
	}
}

func TestDecideNoOpWhenConverged(t *testing.T) {
	existing := &provider.Record{ID: "rec-1", Name: "a.example.com", Type: "A", Content: "203.0.113.9", Proxied: true}
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), existing, true, 60)
	if d.Action != ActionNone {
		t.Fatalf("expected noop, got %s (%s)", d.Action, d.Reason)
	}
}

func TestDecideUpdatesOnProxiedDrift(t *testing.T) {
	existing := &provider.Record{ID: "rec-1", Name: "a.example.com", Type: "A", Content: "203.0.113.9", Proxied: true}
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), existing, false, 60)
	if d.Action != ActionUpdate {
		t.Fatalf("expected update, got %s", d.Action)
	}
	if d.Desired.Proxied {
		t.Fatal("desired record should not be proxied")
	}
}

// A record that drifted in both content and proxy flag must be fixed by a
// single update carrying both dimensions.
func TestDecideSingleUpdateForDoubleDrift(t *testing.T) {
	existing := &provider.Record{ID: "rec-1", Name: "a.example.com", Type: "A", Content: "203.0.113.1", Proxied: false}
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), existing, true, 60)
	if d.Action != ActionUpdate {
		t.Fatalf("expected update, got %s", d.Action)
	}
	if d.Desired.Content != "203.0.113.9" || !d.Desired.Proxied {
		t.Fatalf("update must correct both content and proxied: %+v", d.Desired)
	}
}

func TestDecideTTL(t *testing.T) {
	// Proxied records always get TTL 1; Cloudflare ignores anything else.
	d := Decide("a.example.com", addr4(t, "203.0.113.9"), nil, true, 300)
	if d.Desired.TTL != 1 {
		t.Fatalf("proxied record should use TTL 1, got %d", d.Desired.TTL)
	}
	d = Decide("a.example.com", addr4(t, "203.0.113.9"), nil, false, 300)
	if d.Desired.TTL != 300 {
		t.Fatalf("unproxied record should keep the configured TTL, got %d", d.Desired.TTL)
	}
}

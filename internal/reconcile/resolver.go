package reconcile

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
)

// zoneResolver locates the zone owning a domain and the existing record
// for a (name, type) pair. The account's zone listing is fetched at most
// once per pass: concurrent domains sharing a zone collapse onto a single
// listing call through the singleflight group.
type zoneResolver struct {
	client provider.Client
	group  singleflight.Group
	zones  []provider.Zone
	loaded bool
}

func newZoneResolver(client provider.Client) *zoneResolver {
	return &zoneResolver{client: client}
}

func (r *zoneResolver) listZones(ctx context.Context) ([]provider.Zone, error) {
	v, err, _ := r.group.Do("zones", func() (any, error) {
		if r.loaded {
			return r.zones, nil
		}
		zones, err := r.client.ListZones(ctx)
		if err != nil {
			return nil, err
		}
		r.zones, r.loaded = zones, true
		return zones, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]provider.Zone), nil
}

// zoneFor picks the zone whose name is the longest suffix of domain on a
// label boundary. A configured domain may be a zone apex or any depth of
// subdomain; matching the longest suffix keeps records out of parent zones
// that happen to share a suffix.
func (r *zoneResolver) zoneFor(ctx context.Context, domain string) (provider.Zone, error) {
	zones, err := r.listZones(ctx)
	if err != nil {
		return provider.Zone{}, err
	}
	var best provider.Zone
	for _, z := range zones {
		if domain != z.Name && !strings.HasSuffix(domain, "."+z.Name) {
			continue
		}
		if len(z.Name) > len(best.Name) {
			best = z
		}
	}
	if best.ID == "" {
		return provider.Zone{}, &provider.Error{
			Kind: provider.KindZoneNotFound,
			Op:   "resolve zone",
			Err:  fmt.Errorf("no zone matches %q", domain),
		}
	}
	return best, nil
}

// existingRecord looks up the record for (domain, family), if any.
// More than one record for the same (name, type) is a provider-side
// misconfiguration and is surfaced rather than silently picked from.
func (r *zoneResolver) existingRecord(ctx context.Context, zone provider.Zone, domain string, family detect.Family) (*provider.Record, error) {
	records, err := r.client.ListRecords(ctx, zone.ID, domain, string(family))
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		rec := records[0]
		return &rec, nil
	default:
		return nil, &provider.Error{
			Kind: provider.KindAmbiguousRecord,
			Op:   "resolve record",
			Err:  fmt.Errorf("%d %s records exist for %s", len(records), family, domain),
		}
	}
}

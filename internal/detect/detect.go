// Package detect discovers the caller's current public IP addresses.
//
// Detection runs once per reconciliation pass and its result is shared,
// read-only, across every configured domain. A family that cannot be
// detected resolves to nil rather than failing the pass.
package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Family identifies an address family and doubles as the DNS record type
// that family reconciles.
type Family string

const (
	IPv4 Family = "A"
	IPv6 Family = "AAAA"
)

// Address is one detected address. Immutable once produced.
type Address struct {
	Addr       netip.Addr
	Family     Family
	Source     string
	DetectedAt time.Time
}

// Result holds the outcome of one detection pass. A nil Address for an
// enabled family means detection failed and that family's reconciliation
// is suppressed for the pass.
type Result struct {
	IPv4        *Address
	IPv6        *Address
	IPv4Enabled bool
	IPv6Enabled bool
}

// Address returns the detected address for fam, or nil.
func (r Result) Address(fam Family) *Address {
	if fam == IPv4 {
		return r.IPv4
	}
	return r.IPv6
}

// Enabled reports whether fam was configured for detection at all.
func (r Result) Enabled(fam Family) bool {
	if fam == IPv4 {
		return r.IPv4Enabled
	}
	return r.IPv6Enabled
}

var defaultIPv4Sources = []string{
	"https://ipv4.icanhazip.com",
	"https://api.ipify.org",
	"https://checkip.amazonaws.com",
}

var defaultIPv6Sources = []string{
	"https://ipv6.icanhazip.com",
	"https://api6.ipify.org",
}

type sourceMode int

const (
	modeWeb sourceMode = iota
	modeDisabled
	modeLocal
	modeStatic
)

// Source describes where one family's address comes from.
type Source struct {
	mode   sourceMode
	urls   []string
	static netip.Addr
}

// ParseSource interprets a provider setting for the given family:
// "auto" uses the built-in lookup services, "none" disables the family,
// "local" scans interface addresses, a literal IP is used verbatim,
// and an http(s) URL names a custom lookup service.
func ParseSource(value string, family Family) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		urls := defaultIPv4Sources
		if family == IPv6 {
			urls = defaultIPv6Sources
		}
		return Source{mode: modeWeb, urls: urls}, nil
	case "none":
		return Source{mode: modeDisabled}, nil
	case "local":
		return Source{mode: modeLocal}, nil
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(value)); err == nil {
		if !matchesFamily(addr, family) {
			return Source{}, fmt.Errorf("static address %s is not an %s address", addr, family)
		}
		return Source{mode: modeStatic, static: addr}, nil
	}
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Source{}, fmt.Errorf("unrecognized address provider %q: want auto, none, local, an IP, or an http(s) URL", value)
	}
	return Source{mode: modeWeb, urls: []string{u.String()}}, nil
}

// Detector resolves the public address for each enabled family.
type Detector struct {
	httpClient *http.Client
	logger     *logrus.Entry
	timeout    time.Duration
	ipv4       Source
	ipv6       Source
}

// New constructs a Detector. A nil httpClient falls back to http.DefaultClient.
func New(ipv4, ipv6 Source, timeout time.Duration, logger *logrus.Entry, httpClient *http.Client) *Detector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = logrus.NewEntry(l)
	}
	return &Detector{
		httpClient: httpClient,
		logger:     logger.WithField("component", "detect"),
		timeout:    timeout,
		ipv4:       ipv4,
		ipv6:       ipv6,
	}
}

// Detect resolves both families concurrently. It never returns an error:
// a family that cannot be resolved is logged and left nil in the result.
func (d *Detector) Detect(ctx context.Context) Result {
	res := Result{
		IPv4Enabled: d.ipv4.mode != modeDisabled,
		IPv6Enabled: d.ipv6.mode != modeDisabled,
	}
	var wg sync.WaitGroup
	if res.IPv4Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.IPv4 = d.detectFamily(ctx, d.ipv4, IPv4)
		}()
	}
	if res.IPv6Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.IPv6 = d.detectFamily(ctx, d.ipv6, IPv6)
		}()
	}
	wg.Wait()
	return res
}

func (d *Detector) detectFamily(ctx context.Context, src Source, family Family) *Address {
	switch src.mode {
	case modeStatic:
		return &Address{Addr: src.static, Family: family, Source: "static", DetectedAt: time.Now()}
	case modeLocal:
		addr, err := localAddress(family)
		if err != nil {
			d.logger.WithFields(logrus.Fields{"family": family, "error": err.Error()}).Warn("detection failed")
			return nil
		}
		return &Address{Addr: addr, Family: family, Source: "local", DetectedAt: time.Now()}
	}

	var errs []error
	for _, u := range src.urls {
		addr, err := d.lookup(ctx, u, family)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			d.logger.WithFields(logrus.Fields{"family": family, "source": u}).Debugf("lookup failed: %s", err)
			continue
		}
		return &Address{Addr: addr, Family: family, Source: u, DetectedAt: time.Now()}
	}
	d.logger.WithFields(logrus.Fields{"family": family, "error": errors.Join(errs...).Error()}).Warn("detection failed")
	return nil
}

// lookup queries one address service. The service must return 200 with a
// valid address of the requested family as the first line of the body.
func (d *Detector) lookup(ctx context.Context, serviceURL string, family Family) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	scanner := bufio.NewReader(resp.Body)
	line, _ := scanner.ReadString('\n')
	addr, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	if !matchesFamily(addr, family) {
		return netip.Addr{}, fmt.Errorf("service returned %s, which is not an %s address", addr, family)
	}
	return addr, nil
}

// localAddress returns the first non-loopback, non-link-local interface
// address of the requested family.
func localAddress(family Family) (netip.Addr, error) {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting interface addresses: %w", err)
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	for _, addr := range ifaceAddrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}
		a := prefix.Addr()
		if a.IsLoopback() || a.IsLinkLocalUnicast() {
			continue
		}
		if matchesFamily(a, family) {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no usable %s interface address found", family)
}

func matchesFamily(a netip.Addr, family Family) bool {
	if family == IPv4 {
		return a.Is4() || a.Is4In6()
	}
	return a.Is6() && !a.Is4In6()
}

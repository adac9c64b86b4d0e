// Package config loads the reconciler's configuration from the
// environment. The external scheduler owns the cadence; this process
// consumes its settings once at startup and treats them as immutable.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/net/publicsuffix"

	"github.com/quarterhalt/cfddns/internal/detect"
)

// Config is the full configuration for one invocation.
type Config struct {
	Token          string
	TokenFile      string
	Domains        []string
	Proxied        bool
	TTL            int
	IP4Provider    string
	IP6Provider    string
	RequestTimeout time.Duration
	MaxRetries     int
	Workers        int
	RateLimit      float64
}

// Load reads configuration from environment variables, applying defaults
// for everything except the credential and the domain list.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("API_TOKEN_FILE", "")
	v.SetDefault("DOMAINS", "")
	v.SetDefault("PROXIED", true)
	v.SetDefault("TTL", 60)
	v.SetDefault("IP4_PROVIDER", "auto")
	v.SetDefault("IP6_PROVIDER", "auto")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("WORKERS", 3)
	v.SetDefault("RATE_LIMIT", 4.0)

	cfg := &Config{
		Token:          strings.TrimSpace(v.GetString("API_TOKEN")),
		TokenFile:      strings.TrimSpace(v.GetString("API_TOKEN_FILE")),
		Domains:        splitDomains(v.GetString("DOMAINS")),
		Proxied:        v.GetBool("PROXIED"),
		TTL:            v.GetInt("TTL"),
		IP4Provider:    v.GetString("IP4_PROVIDER"),
		IP6Provider:    v.GetString("IP6_PROVIDER"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		MaxRetries:     v.GetInt("MAX_RETRIES"),
		Workers:        v.GetInt("WORKERS"),
		RateLimit:      v.GetFloat64("RATE_LIMIT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitDomains(raw string) []string {
	var domains []string
	for _, d := range strings.Split(raw, ",") {
		d = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d), ".")))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// Validate checks everything that can be checked without network access.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return errors.New("DOMAINS must list at least one domain")
	}
	for _, d := range c.Domains {
		if !strings.Contains(d, ".") {
			return fmt.Errorf("domain %q must have at least one dot", d)
		}
		// Catches names with no registrable suffix (e.g. bare TLDs or
		// "foo.localhost") before we spend API calls on them.
		if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
			return fmt.Errorf("domain %q is not a valid DNS name: %w", d, err)
		}
	}
	if _, err := detect.ParseSource(c.IP4Provider, detect.IPv4); err != nil {
		return fmt.Errorf("IP4_PROVIDER: %w", err)
	}
	if _, err := detect.ParseSource(c.IP6Provider, detect.IPv6); err != nil {
		return fmt.Errorf("IP6_PROVIDER: %w", err)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("MAX_RETRIES cannot be negative")
	}
	if c.RateLimit <= 0 {
		return errors.New("RATE_LIMIT must be positive")
	}
	return nil
}

// ResolveToken returns the API token from the environment or the token
// file. The token is required before any provider call is attempted.
func (c *Config) ResolveToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", errors.New("no API token configured: set API_TOKEN or API_TOKEN_FILE")
	}
	if err := verifyPermissions(c.TokenFile); err != nil {
		return "", err
	}
	return readTokenFile(c.TokenFile)
}

func readTokenFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading token file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading token file line: %w", err)
	}
	token := strings.TrimSpace(string(line))
	if token == "" {
		return "", fmt.Errorf("token file %q is empty", path)
	}
	return token, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages state that we want 0600,
	// but we also accept 0400 which is even more restricted.
	// The file might be mounted by a secrets manager as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: expected file permissions \"-rw-------\"; found %q", path, fs.FileMode(perms))
	}
	return nil
}

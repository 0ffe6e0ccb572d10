package stapled

import (
	"fmt"
	"time"
)

// Config is the parsed configuration the core consumes. spec.md places
// command-line and config-file parsing out of scope; whatever collaborator
// builds one of these (flags, a config file, a test fixture) is free to do
// so however it likes, as long as it ends up with one of these.
type Config struct {
	// MinimumValidity is the remaining validity, below which a staple is
	// considered too close to expiry and must be renewed.
	MinimumValidity time.Duration
	// RenewalThreads is the size of the Renewer worker pool.
	RenewalThreads int
	// RefreshInterval is the minimum time between two Finder refresh
	// cycles.
	RefreshInterval time.Duration
	// FileExtensions are the certificate-bundle file extensions Finder
	// considers, without the leading dot.
	FileExtensions []string
	// CertPaths are the root paths Finder walks.
	CertPaths []string
	// HAProxySocketMapping maps a parent directory (as produced by
	// filepath.Dir on a certificate path) to the admin-socket paths that
	// should receive staples discovered under it. Building this mapping
	// from an HAProxy config file is an external collaborator's job; the
	// core only ever consumes the resulting map.
	HAProxySocketMapping map[string][]string
	// HAProxySocketKeepAlive is the `set timeout cli` value sent to each
	// admin socket on open, so the proxy doesn't close an idle
	// connection.
	HAProxySocketKeepAlive time.Duration
	// Recursive enables recursive directory walking in Finder.
	Recursive bool
	// NoRecycle disables staple recycling in Parser; every parse always
	// schedules an ASAP renewal.
	NoRecycle bool
	// Ignore holds glob ignore patterns, as described in spec.md §4.1.
	Ignore []string
	// OneOff runs exactly one Finder pass, drains the pipeline, and
	// returns instead of running forever.
	OneOff bool
	// HookCmd, if set, is run with the raw OCSP response on stdin after
	// every successful renewal. See hook.go.
	HookCmd string
	// LogDir is where uncaught-panic stack traces are dumped.
	LogDir string
	// DebugRenewInterval overrides the successor renew scheduling with a
	// short fixed delay, for interactive testing. Never set in
	// production. See spec.md §4.3.
	DebugRenewInterval time.Duration
	// MaxWorkerRestarts bounds how many times the Supervisor restarts a
	// crashed worker goroutine before giving up on it.
	MaxWorkerRestarts int
}

// WithDefaults returns a copy of c with zero-valued fields replaced by their
// documented defaults.
func (c Config) WithDefaults() Config {
	if c.MinimumValidity == 0 {
		c.MinimumValidity = DefaultMinimumValidity
	}
	if c.RenewalThreads == 0 {
		c.RenewalThreads = DefaultRenewalThreads
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if len(c.FileExtensions) == 0 {
		c.FileExtensions = DefaultFileExtensions
	}
	if c.HAProxySocketKeepAlive == 0 {
		c.HAProxySocketKeepAlive = DefaultHAProxyKeepAlive
	}
	if c.MaxWorkerRestarts == 0 {
		c.MaxWorkerRestarts = DefaultMaxWorkerRestarts
	}
	return c
}

// Validate reports configuration problems that would make the daemon unable
// to start. It does not validate ignore patterns; newIgnoreMatcher does
// that itself and simply discards ones it can't use (spec.md §4.1).
func (c Config) Validate() error {
	if len(c.CertPaths) == 0 {
		return fmt.Errorf("stapled: at least one cert path is required")
	}
	if c.RenewalThreads < 1 {
		return fmt.Errorf("stapled: renewal_threads must be >= 1, got %d", c.RenewalThreads)
	}
	if c.HAProxySocketKeepAlive < time.Second {
		return fmt.Errorf("stapled: haproxy_socket_keepalive must be >= 1s, got %s", c.HAProxySocketKeepAlive)
	}
	return nil
}

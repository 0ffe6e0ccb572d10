package stapled

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	c := Config{CertPaths: []string{"/etc/ssl/certs"}}.WithDefaults()

	assert.Equal(t, DefaultMinimumValidity, c.MinimumValidity)
	assert.Equal(t, DefaultRenewalThreads, c.RenewalThreads)
	assert.Equal(t, DefaultRefreshInterval, c.RefreshInterval)
	assert.Equal(t, DefaultFileExtensions, c.FileExtensions)
	assert.Equal(t, DefaultHAProxyKeepAlive, c.HAProxySocketKeepAlive)
	assert.Equal(t, DefaultMaxWorkerRestarts, c.MaxWorkerRestarts)
}

func TestConfigWithDefaultsPreservesSetValues(t *testing.T) {
	c := Config{
		CertPaths:       []string{"/etc/ssl/certs"},
		MinimumValidity: 30 * time.Minute,
		RenewalThreads:  8,
	}.WithDefaults()

	assert.Equal(t, 30*time.Minute, c.MinimumValidity)
	assert.Equal(t, 8, c.RenewalThreads)
}

func TestConfigValidateRequiresCertPaths(t *testing.T) {
	c := Config{}.WithDefaults()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert path")
}

func TestConfigValidateRejectsZeroRenewalThreads(t *testing.T) {
	c := Config{CertPaths: []string{"/etc/ssl/certs"}, RenewalThreads: 0, HAProxySocketKeepAlive: time.Second}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renewal_threads")
}

func TestConfigValidateRejectsShortKeepAlive(t *testing.T) {
	c := Config{
		CertPaths:              []string{"/etc/ssl/certs"},
		RenewalThreads:         2,
		HAProxySocketKeepAlive: 100 * time.Millisecond,
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "haproxy_socket_keepalive")
}

func TestConfigValidatePasses(t *testing.T) {
	c := Config{CertPaths: []string{"/etc/ssl/certs"}}.WithDefaults()
	assert.NoError(t, c.Validate())
}

package stapled

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// caBundlePEM is a real, self-signed CA certificate (subject == issuer,
// basic-constraint CA:TRUE) pulled from a pack example's test fixtures, used
// here to exercise readChain's intermediate-detection branch without
// needing to mint fresh key material.
const caBundlePEM = `-----BEGIN CERTIFICATE-----
MIICUTCCAfugAwIBAgIBADANBgkqhkiG9w0BAQQFADBXMQswCQYDVQQGEwJDTjEL
MAkGA1UECBMCUE4xCzAJBgNVBAcTAkNOMQswCQYDVQQKEwJPTjELMAkGA1UECxMC
VU4xFDASBgNVBAMTC0hlcm9uZyBZYW5nMB4XDTA1MDcxNTIxMTk0N1oXDTA1MDgx
NDIxMTk0N1owVzELMAkGA1UEBhMCQ04xCzAJBgNVBAgTAlBOMQswCQYDVQQHEwJD
TjELMAkGA1UEChMCT04xCzAJBgNVBAsTAlVOMRQwEgYDVQQDEwtIZXJvbmcgWWFu
ZzBcMA0GCSqGSIb3DQEBAQUAA0sAMEgCQQCp5hnG7ogBhtlynpOS21cBewKE/B7j
V14qeyslnr26xZUsSVko36ZnhiaO/zbMOoRcKK9vEcgMtcLFuQTWDl3RAgMBAAGj
gbEwga4wHQYDVR0OBBYEFFXI70krXeQDxZgbaCQoR4jUDncEMH8GA1UdIwR4MHaA
FFXI70krXeQDxZgbaCQoR4jUDncEoVukWTBXMQswCQYDVQQGEwJDTjELMAkGA1UE
CBMCUE4xCzAJBgNVBAcTAkNOMQswCQYDVQQKEwJPTjELMAkGA1UECxMCVU4xFDAS
BgNVBAMTC0hlcm9uZyBZYW5nggEAMAwGA1UdEwQFMAMBAf8wDQYJKoZIhvcNAQEE
BQADQQA/ugzBrjjK9jcWnDVfGHlk3icNRq0oV7Ri32z/+HQX67aRfgZu7KWdI+Ju
Wm7DCfrPNGVwFWUQOmsPue9rZBgO
-----END CERTIFICATE-----
`

func TestReadChainPureCABundle(t *testing.T) {
	endEntity, intermediates, urls, err := readChain([]byte(caBundlePEM))
	require.NoError(t, err)
	assert.Nil(t, endEntity)
	require.Len(t, intermediates, 1)
	assert.Equal(t, "Herong Yang", intermediates[0].Subject.CommonName)
	assert.Empty(t, urls)
}

func TestReadChainEmptyInput(t *testing.T) {
	endEntity, intermediates, urls, err := readChain([]byte("not pem data"))
	require.NoError(t, err)
	assert.Nil(t, endEntity)
	assert.Nil(t, intermediates)
	assert.Nil(t, urls)
}

func TestParseChainDetectsPureCABundle(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca-only.pem"
	require.NoError(t, os.WriteFile(path, []byte(caBundlePEM), 0o644))

	r, err := NewRecord(path)
	require.NoError(t, err)

	err = r.parseChain()
	assert.ErrorIs(t, err, errPureCABundle)
}

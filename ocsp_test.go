package stapled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ocsp"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "good", StatusString(ocsp.Good))
	assert.Equal(t, "revoked", StatusString(ocsp.Revoked))
	assert.Equal(t, "unknown", StatusString(ocsp.Unknown))
	assert.Equal(t, "<unknown status>", StatusString(99))
}

func TestRevocationReasonString(t *testing.T) {
	assert.Equal(t, "keyCompromise", RevocationReasonString(ocsp.KeyCompromise))
	assert.Equal(t, "<unknown revocation reason>", RevocationReasonString(99))
}

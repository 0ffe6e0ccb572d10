package stapled

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessagesIncludeContext(t *testing.T) {
	underlying := errors.New("permission denied")

	fa := &CertFileAccessError{Path: "/etc/ssl/a.pem", Err: underlying}
	assert.Contains(t, fa.Error(), "/etc/ssl/a.pem")
	assert.ErrorIs(t, fa, underlying)

	cp := &CertParsingError{Path: "/etc/ssl/b.pem", Err: underlying}
	assert.Contains(t, cp.Error(), "/etc/ssl/b.pem")

	cv := &CertValidationError{Path: "/etc/ssl/c.pem", Err: underlying}
	assert.Contains(t, cv.Error(), "failed chain validation")

	rr := &RenewalRequirementMissing{Path: "/etc/ssl/d.pem", Reason: "no OCSP responder URL"}
	assert.Contains(t, rr.Error(), "no OCSP responder URL")

	ob := &OCSPBadResponse{Path: "/etc/ssl/e.pem", URL: "http://ocsp.example", Reason: "empty response body"}
	assert.Contains(t, ob.Error(), "http://ocsp.example")

	sb := &StapleAdderBadResponse{Socket: "/run/haproxy.sock", Response: "nope"}
	assert.Contains(t, sb.Error(), "nope")

	se := &SocketError{Socket: "/run/haproxy.sock", Err: underlying}
	assert.ErrorIs(t, se, underlying)

	ne := &NetworkError{Path: "/etc/ssl/f.pem", URL: "http://ocsp.example", Err: underlying}
	assert.Contains(t, ne.Error(), "http://ocsp.example")
}

func TestErrPureCABundleIsDistinguishable(t *testing.T) {
	wrapped := fmt.Errorf("while parsing: %w", errPureCABundle)
	assert.True(t, errors.Is(wrapped, errPureCABundle))
}

package stapled

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRenewerScheduler() *Scheduler {
	sched := NewScheduler(zap.NewNop())
	sched.AddQueue(StageRenew)
	sched.AddQueue(StageProxyAdd)
	return sched
}

// realTestCertificate parses the same known-good fixture pem_test.go uses,
// so CreateRequest (which inspects SerialNumber, RawSubject, and
// RawSubjectPublicKeyInfo) has genuine ASN.1 data to work with instead of a
// zero-value *x509.Certificate.
func realTestCertificate(t *testing.T) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode([]byte(caBundlePEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestRenewerClassifyEmptyBodyIsBadResponse(t *testing.T) {
	rn := NewRenewer(Config{}, newTestRenewerScheduler(), nil, zap.NewNop())
	r := &Record{Path: "/tmp/x.pem"}

	staple, err := rn.classify(r, "http://ocsp.example", nil, &x509.Certificate{})
	assert.Nil(t, staple)
	var bad *OCSPBadResponse
	require.ErrorAs(t, err, &bad)
	assert.False(t, bad.Revoked)
	assert.False(t, bad.Unknown)
	assert.Contains(t, bad.Error(), "empty response body")
}

func TestRenewerClassifyUnparseableBodyIsBadResponse(t *testing.T) {
	rn := NewRenewer(Config{}, newTestRenewerScheduler(), nil, zap.NewNop())
	r := &Record{Path: "/tmp/x.pem"}

	staple, err := rn.classify(r, "http://ocsp.example", []byte("not a der encoded response"), &x509.Certificate{})
	assert.Nil(t, staple)
	var bad *OCSPBadResponse
	require.ErrorAs(t, err, &bad)
	assert.False(t, bad.Revoked)
	assert.False(t, bad.Unknown)
}

func TestRenewerProcessDropsRecordWithNoValidatedChain(t *testing.T) {
	sched := newTestRenewerScheduler()
	rn := NewRenewer(Config{}, sched, nil, zap.NewNop())
	r := &Record{Path: "/tmp/no-chain.pem"}

	rn.process(NewTask(StageRenew, r))

	_, ok := sched.GetTask(StageProxyAdd, 20*time.Millisecond)
	assert.False(t, ok, "no staple should ever be produced without a validated chain")
}

func TestRenewerProcessRequiresResponderURL(t *testing.T) {
	sched := newTestRenewerScheduler()
	rn := NewRenewer(Config{}, sched, nil, zap.NewNop())
	r := &Record{
		Path:      "/tmp/no-url.pem",
		EndEntity: &x509.Certificate{},
		Chain:     []*x509.Certificate{{}, {}},
	}

	rn.process(NewTask(StageRenew, r))

	_, ok := sched.GetTask(StageProxyAdd, 20*time.Millisecond)
	assert.False(t, ok, "a record with no OCSP responder URL can't be renewed")
}

// TestRenewerProcessNetworkErrorIsNotImmediatelyRetried drives process()
// through a real HTTP round trip against a local httptest server that
// always fails, confirming a failed fetch lands back on the deadline heap
// (handler.go's network cadence) rather than being retried instantly or
// silently dropped.
func TestRenewerProcessNetworkErrorIsNotImmediatelyRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cert := realTestCertificate(t)
	sched := newTestRenewerScheduler()
	rn := NewRenewer(Config{}, sched, NewFetcher(), zap.NewNop())
	r := &Record{
		Path:      "/tmp/net-error.pem",
		EndEntity: cert,
		Chain:     []*x509.Certificate{cert, cert},
		OCSPURLs:  []string{srv.URL},
	}

	rn.process(NewTask(StageRenew, r))

	_, ok := sched.GetTask(StageProxyAdd, 20*time.Millisecond)
	assert.False(t, ok, "a fetch failure never produces a staple")
	assert.Len(t, sched.h, 1, "the failed task is back on the deadline heap")
	assert.Equal(t, 0, r.URLIndex, "single-URL round robin wraps back to index 0 after a failed attempt")
}

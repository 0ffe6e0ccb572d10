package stapled

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/ocsp"
)

// fetchConnectTimeout and fetchReadTimeout are the two halves of spec.md
// §4.3's "(connect=10s, read=5s) timeout".
const (
	fetchConnectTimeout = 10 * time.Second
	fetchReadTimeout    = 5 * time.Second
)

// Fetcher performs OCSP fetch attempts over HTTP, caching the underlying
// *http.Client (and thus its connection pool) the way
// _examples/tbroyer-ocspd/fetch.go's Fetcher does, but reduced to the single
// try-once-per-task contract spec.md §4.3 wants from Renewer: no built-in
// retry loop, no conditional GET/ETag machinery (that's this teacher's own
// enrichment, not something spec.md asks for).
type Fetcher struct {
	Client *http.Client
}

// NewFetcher builds a Fetcher whose *http.Client enforces the connect/read
// timeout split spec.md §4.3 requires: a DialContext timeout for connect,
// and a response-header timeout standing in for "read", since net/http has
// no single knob for "give up if the body stalls" that doesn't also bound
// legitimate slow-but-steady transfers.
func NewFetcher() *Fetcher {
	dialer := &net.Dialer{Timeout: fetchConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: fetchReadTimeout,
	}
	return &Fetcher{
		Client: &http.Client{Transport: transport},
	}
}

func (f *Fetcher) client() *http.Client {
	if f == nil || f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// Fetch performs one OCSP request for (endEntity, issuer) against
// responderURL and returns the raw DER response body. It does not parse or
// classify the response — Renewer does that, since the classification rules
// (empty body, good/revoked/unknown) are part of the error taxonomy, not the
// transport.
func (f *Fetcher) Fetch(ctx context.Context, endEntity, issuer *x509.Certificate, responderURL string) ([]byte, error) {
	// nil options -> the library's default hash, SHA-1, matching
	// spec.md §6's "hash alg SHA-1". Nonce is omitted by default (only
	// CreateRequest with an explicit RequestOptions.Hash plus manual
	// extensions would add one), matching §6's "nonce disabled".
	reqBytes, err := ocsp.CreateRequest(endEntity, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("building OCSP request: %w", err)
	}

	u, err := url.Parse(responderURL)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responderURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &NetworkError{URL: responderURL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")
	// net/http sends Request.Host and ignores a "Host" entry in Header.
	httpReq.Host = u.Hostname()

	resp, err := f.client().Do(httpReq)
	if err != nil {
		return nil, &NetworkError{URL: responderURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: responderURL, Err: fmt.Errorf("bad HTTP status: %d", resp.StatusCode)}
	}

	body, err := readLimited(resp.Body, 1<<20)
	if err != nil {
		return nil, &NetworkError{URL: responderURL, Err: err}
	}
	return body, nil
}

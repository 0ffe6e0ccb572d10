package stapled

import "fmt"

// The errors below form the closed taxonomy spec.md §7 routes through
// handler.go's central dispatch. Each carries enough context to log a useful
// message and, where relevant, to decide a retry cadence.

// CertFileAccessError means a certificate file couldn't be opened or
// stat'd. Retriable.
type CertFileAccessError struct {
	Path string
	Err  error
}

func (e *CertFileAccessError) Error() string {
	return fmt.Sprintf("can't access certificate file %q: %s", e.Path, e.Err)
}

func (e *CertFileAccessError) Unwrap() error { return e.Err }

// CertParsingError means the certificate file itself is unusable: no PEM
// data, a malformed certificate, or (critical case) no intermediates found
// at all. Not retriable; the file is retried only when Finder observes its
// mtime change.
type CertParsingError struct {
	Path string
	Err  error
}

func (e *CertParsingError) Error() string {
	return fmt.Sprintf("failed to parse certificate file %q: %s", e.Path, e.Err)
}

func (e *CertParsingError) Unwrap() error { return e.Err }

// errPureCABundle is a sentinel Record.parseChain returns when
// intermediates were found but no end-entity, so the file is a CA bundle,
// not something to staple. HandleError recognizes it and logs it at INFO,
// never CRITICAL. This is deliberately distinct from CertParsingError: it is
// not an anomaly, per spec.md §4.2.
var errPureCABundle = fmt.Errorf("file contains only CA certificates, not eligible for stapling")

// CertValidationError means the chain (optionally including a candidate
// staple) failed to validate: revoked, invalid, or path building/validation
// failed. Not retriable; any existing <path>.ocsp is deleted.
type CertValidationError struct {
	Path string
	Err  error
}

func (e *CertValidationError) Error() string {
	return fmt.Sprintf("certificate %q failed chain validation: %s", e.Path, e.Err)
}

func (e *CertValidationError) Unwrap() error { return e.Err }

// RenewalRequirementMissing means the record is missing something required
// before a renewal attempt can even be made (no end-entity, empty chain, or
// no OCSP URLs). Not retriable.
type RenewalRequirementMissing struct {
	Path   string
	Reason string
}

func (e *RenewalRequirementMissing) Error() string {
	return fmt.Sprintf("%q is missing a renewal requirement: %s", e.Path, e.Reason)
}

// OCSPBadResponse means the OCSP responder replied but the reply can't be
// used: empty body, unparseable, status revoked, or (tagged Unknown) status
// unknown. Unknown is retried with the network-error cadence (URL
// round-robin) per spec.md §9's resolved Open Question. Revoked is not
// retried at all: spec.md §8 scenario 4 requires the staple file be deleted
// and the task dropped, not rescheduled. Empty-body/unparseable (neither
// flag set) use the flatter tiered cadence.
type OCSPBadResponse struct {
	Path    string
	URL     string
	Reason  string
	Unknown bool
	Revoked bool
}

func (e *OCSPBadResponse) Error() string {
	return fmt.Sprintf("bad OCSP response for %q from %s: %s", e.Path, e.URL, e.Reason)
}

// StapleAdderBadResponse means the admin socket replied with something
// other than the expected success string. Retriable.
type StapleAdderBadResponse struct {
	Socket   string
	Response string
}

func (e *StapleAdderBadResponse) Error() string {
	return fmt.Sprintf("unexpected admin socket response from %q: %q", e.Socket, e.Response)
}

// SocketError means an admin socket could not be opened, or broke and a
// single reconnect attempt also failed. Not retriable; the socket is lost
// until the process restarts.
type SocketError struct {
	Socket string
	Err    error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %q is unusable: %s", e.Socket, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// NetworkError wraps a transport-level failure talking to an OCSP
// responder: timeouts, connection refused, too many redirects, or a bad
// HTTP status. Retriable, with per-URL round-robin cadence.
type NetworkError struct {
	Path string
	URL  string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching OCSP response for %q from %s: %s", e.Path, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

package stapled

import (
	"crypto/x509"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Staple wraps a parsed OCSP response together with the raw DER bytes it was
// parsed from, matching spec.md §3's "OCSP staple parse result".
type Staple struct {
	Response *ocsp.Response
	Raw      []byte
}

// Status returns one of "good", "revoked" or "unknown".
func (s *Staple) Status() string {
	return StatusString(s.Response.Status)
}

// ValidFrom is the staple's ThisUpdate.
func (s *Staple) ValidFrom() time.Time { return s.Response.ThisUpdate }

// ValidUntil is the staple's NextUpdate.
func (s *Staple) ValidUntil() time.Time { return s.Response.NextUpdate }

// Good reports whether the staple's status is "good".
func (s *Staple) Good() bool { return s.Response.Status == ocsp.Good }

// parseStaple parses a raw DER OCSP response against issuer. An empty der
// slice is deliberately not special-cased here: spec.md treats an empty
// <path>.ocsp sentinel file as "needs renewal", which callers implement by
// checking len(der) == 0 before calling this, not by having it return a
// degenerate Staple.
func parseStaple(der []byte, issuer *x509.Certificate) (*Staple, error) {
	resp, err := ocsp.ParseResponse(der, issuer)
	if err != nil {
		return nil, err
	}
	return &Staple{Response: resp, Raw: der}, nil
}

// StatusString maps an ocsp.Response.Status value to the vocabulary spec.md
// uses throughout: "good", "revoked", "unknown".
//
// Adapted from _examples/tbroyer-ocspd/cmd/internal/string.go.
func StatusString(status int) string {
	switch status {
	case ocsp.Good:
		return "good"
	case ocsp.Revoked:
		return "revoked"
	case ocsp.Unknown:
		return "unknown"
	default:
		return "<unknown status>"
	}
}

// RevocationReasonString maps an ocsp.Response.RevocationReason value to a
// human-readable string, for CRITICAL log lines about a revoked
// certificate.
//
// Adapted from _examples/tbroyer-ocspd/cmd/internal/string.go.
func RevocationReasonString(reason int) string {
	switch reason {
	case ocsp.Unspecified:
		return "unspecified"
	case ocsp.KeyCompromise:
		return "keyCompromise"
	case ocsp.CACompromise:
		return "cACompromise"
	case ocsp.AffiliationChanged:
		return "affiliationChanged"
	case ocsp.Superseded:
		return "superseded"
	case ocsp.CessationOfOperation:
		return "cessationOfOperation"
	case ocsp.CertificateHold:
		return "certificateHold"
	case ocsp.RemoveFromCRL:
		return "removeFromCRL"
	case ocsp.PrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ocsp.AACompromise:
		return "aACompromise"
	default:
		return "<unknown revocation reason>"
	}
}

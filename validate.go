package stapled

import (
	"bytes"
	"crypto/x509"
)

// validateChain builds and validates the certificate path for end-entity
// through intermediates, requiring the digital-signature key usage and
// server-authentication extended key usage — with extended_optional
// semantics, matching spec.md §4.2: x509.Verify already treats an absent
// ExtKeyUsage list on the leaf as "anything goes", which is exactly what
// extended_optional=true means, so no extra bookkeeping is needed to get
// that behavior. Verify does not look at KeyUsage, so the digital-signature
// bit is checked on the end-entity directly.
//
// staple is accepted only to mirror the upstream library's distinction
// between "validate with a candidate staple" and "validate without one" for
// logging purposes: the staple's own signature, if present, was already
// checked against issuer when it was parsed (parseStaple -> ocsp.ParseResponse
// verifies it), so there is nothing further to check against it here.
//
// Trust anchors come from the platform trust store, treated as the
// black-box root of trust spec.md §1 says chain validation is out of scope
// to reimplement.
func validateChain(endEntity *x509.Certificate, intermediates []*x509.Certificate, staple *Staple) ([]*x509.Certificate, error) {
	if endEntity.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return nil, &chainBuildError{"end-entity certificate lacks the digital signature key usage"}
	}
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	pool := x509.NewCertPool()
	for _, c := range intermediates {
		pool.AddCert(c)
	}
	chains, err := endEntity.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: pool,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return nil, err
	}
	if len(chains[0]) == 0 {
		return nil, errEmptyChain
	}
	_ = staple // see doc comment: nothing further to check here
	return chains[0], nil
}

// issuerCandidate picks the intermediate that directly issued ee, for use
// before a full chain has been validated (Parser's staple-recycling path
// needs an issuer to parse a candidate staple with, ahead of validateChain
// producing the authoritative chain). Falls back to the first intermediate
// when no exact subject/issuer match is found.
func issuerCandidate(ee *x509.Certificate, intermediates []*x509.Certificate) *x509.Certificate {
	for _, c := range intermediates {
		if bytes.Equal(c.RawSubject, ee.RawIssuer) {
			return c
		}
	}
	if len(intermediates) > 0 {
		return intermediates[0]
	}
	return nil
}

var errEmptyChain = &chainBuildError{"empty certificate chain returned by verifier"}

type chainBuildError struct{ msg string }

func (e *chainBuildError) Error() string { return e.msg }

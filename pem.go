package stapled

import (
	"crypto/x509"
	"encoding/pem"
)

// readChain scans PEM blocks in data and splits them into an end-entity
// certificate and its intermediates, following spec.md §4.2's rule: a block
// with the CA basic-constraint set is an intermediate, the first non-CA
// block found is the end-entity (and its OCSP URLs are copied out), any
// further non-CA blocks are ignored (a bundle should only ever contain one
// leaf).
//
// Adapted from _examples/tbroyer-ocspd/pem.go and cmd/internal/pem.go, which
// only ever kept a single issuer; this generalizes to the ordered
// intermediate list spec.md's Certificate record requires.
func readChain(data []byte) (endEntity *x509.Certificate, intermediates []*x509.Certificate, ocspURLs []string, err error) {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		crt, perr := x509.ParseCertificate(block.Bytes)
		if perr != nil {
			return nil, nil, nil, perr
		}
		if crt.IsCA {
			intermediates = append(intermediates, crt)
			continue
		}
		if endEntity == nil {
			endEntity = crt
			ocspURLs = append(ocspURLs, crt.OCSPServer...)
		}
	}
	return endEntity, intermediates, ocspURLs, nil
}

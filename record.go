package stapled

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is the Certificate record of spec.md §3: everything known about one
// certificate file as it moves through Finder, Parser, and Renewer.
//
// Exclusive ownership of a Record is shared the same way the scheduler's
// tables are: a Record is only ever mutated by the component that currently
// "owns" the task touching it, and Store (finder.go) provides the only
// concurrent-read/exclusive-write access to the path->Record mapping
// spec.md §5 describes.
type Record struct {
	// Path is the absolute filesystem path; the record mapping's key.
	Path string
	// ModTime is the file's mtime at load time.
	ModTime time.Time

	mu sync.Mutex

	// EndEntity is the server (leaf) certificate.
	EndEntity *x509.Certificate
	// Intermediates is the ordered list of intermediate CA certificates
	// found in the file, in file order.
	Intermediates []*x509.Certificate
	// Chain is the validated chain, populated after a successful parse.
	// Non-empty and terminates at a trusted root whenever it is
	// populated.
	Chain []*x509.Certificate
	// OCSPURLs are the responder URLs extracted from EndEntity's
	// Authority Information Access extension.
	OCSPURLs []string
	// URLIndex rounds-robin through OCSPURLs after a failure.
	URLIndex int
	// Staple is the current OCSP staple, if any. Populated only once it
	// has been validated against Chain.
	Staple *Staple

	// ocspRequest caches the built OCSP request (see §9's "decorator-
	// style memoisation" redesign note: this is the plain explicit-field
	// replacement for that).
	ocspRequest []byte
}

// NewRecord reads path and returns a fresh Record for it. It does not parse
// the certificate data yet — that's Parser's job — but it does record the
// file's mtime, matching spec.md §3's lifecycle ("created by Finder when a
// new file appears").
func NewRecord(path string) (*Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &CertFileAccessError{Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &CertFileAccessError{Path: path, Err: err}
	}
	return &Record{
		Path:    abs,
		ModTime: info.ModTime(),
	}, nil
}

// ParentPath is the directory the record was discovered under, used to look
// up which admin sockets should receive its staples (spec.md §3, §4.4).
func (r *Record) ParentPath() string {
	return filepath.Dir(r.Path)
}

// OCSPFilePath is the path of the staple file next to the certificate.
func (r *Record) OCSPFilePath() string {
	return r.Path + ".ocsp"
}

func (r *Record) String() string {
	return r.Path
}

// readCertFile reads the certificate bundle off disk, wrapping I/O failures as
// the retriable CertFileAccessError spec.md §7 names.
func readCertFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CertFileAccessError{Path: path, Err: err}
	}
	return data, nil
}

// parseChain extracts the end-entity and intermediates from the certificate
// file and stores them on r, implementing spec.md §4.2's chain-extraction
// algorithm including its two distinct failure modes.
func (r *Record) parseChain() error {
	data, err := readCertFile(r.Path)
	if err != nil {
		return err
	}
	endEntity, intermediates, urls, err := readChain(data)
	if err != nil {
		return &CertParsingError{Path: r.Path, Err: err}
	}
	if len(intermediates) == 0 {
		return &CertParsingError{
			Path: r.Path,
			Err:  fmt.Errorf("no intermediate CA certificates found"),
		}
	}
	if endEntity == nil {
		// Pure CA bundle: not an anomaly, just not stapleable.
		return errPureCABundle
	}
	r.mu.Lock()
	r.EndEntity = endEntity
	r.Intermediates = intermediates
	r.OCSPURLs = urls
	r.ocspRequest = nil
	r.mu.Unlock()
	return nil
}

// validate validates r's chain, optionally including a candidate staple, and
// on success returns the validated chain; storing it on r is left to the
// caller (Parser). Maps every validation failure onto CertValidationError
// per spec.md §4.2.
func (r *Record) validate(staple *Staple) ([]*x509.Certificate, error) {
	chain, err := validateChain(r.EndEntity, r.Intermediates, staple)
	if err != nil {
		return nil, &CertValidationError{Path: r.Path, Err: err}
	}
	return chain, nil
}

// currentURL returns the responder URL to try next, rounds-robining via
// URLIndex. Callers must hold no lock; Renewer is the sole mutator of
// URLIndex and runs one fetch per task, so this is race-free in practice,
// matching spec.md §5's "no worker holds a lock across [network] I/O".
func (r *Record) currentURL() (string, error) {
	if len(r.OCSPURLs) == 0 {
		return "", &RenewalRequirementMissing{Path: r.Path, Reason: "no OCSP responder URL"}
	}
	return r.OCSPURLs[r.URLIndex%len(r.OCSPURLs)], nil
}

// advanceURL rounds-robins to the next responder URL after a failure.
func (r *Record) advanceURL() {
	if len(r.OCSPURLs) == 0 {
		return
	}
	r.URLIndex = (r.URLIndex + 1) % len(r.OCSPURLs)
}

// issuer returns the certificate that directly issued the end-entity.
// x509.Verify orders a chain leaf first, so that is Chain[1].
func (r *Record) issuer() (*x509.Certificate, error) {
	if len(r.Chain) < 2 {
		return nil, &RenewalRequirementMissing{Path: r.Path, Reason: "validated chain is too short to find an issuer"}
	}
	return r.Chain[1], nil
}

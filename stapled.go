// Package stapled maintains a fresh cache of OCSP staples for a collection
// of X.509 server certificates on disk, and pushes each new staple into one
// or more running TLS-terminator processes over their administrative
// UNIX-domain sockets.
package stapled

import "time"

// Defaults for Config fields left unset by the caller, matching the CLI
// option defaults spec.md §6 documents for the (out-of-scope) command-line
// wrapper around this package.
const (
	DefaultMinimumValidity = 2 * time.Hour
	DefaultRenewalThreads  = 2
	DefaultRefreshInterval = 60 * time.Second
	DefaultHAProxyKeepAlive = 10 * time.Second
	DefaultMaxWorkerRestarts = 3
	DefaultSocketBufferSize = 1024
)

// DefaultFileExtensions are the certificate-bundle file extensions Finder
// considers, absent an explicit Config.FileExtensions.
var DefaultFileExtensions = []string{"crt", "pem", "cer"}

// StackTraceFilePattern names the file an uncaught panic is dumped to, under
// the configured log directory. Mirrors
// _examples/original_source/ocspd/core/excepthandler.py's
// STACK_TRACE_FILENAME.
const StackTraceFilePattern = "stapled_exception%s.trace"

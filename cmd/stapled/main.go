// Command stapled runs the OCSP staple daemon: the core package's Supervisor
// wired up to command-line flags. Flag parsing, daemonisation, and log
// formatting live here, outside the core, per spec.md §1's scope boundary.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/greenhost/stapled"
)

// socketMapping implements flag.Value, accumulating repeated
// -socket dir=path1,path2 flags into a Config.HAProxySocketMapping.
type socketMapping map[string][]string

func (m socketMapping) String() string {
	var b strings.Builder
	for dir, paths := range m {
		fmt.Fprintf(&b, "%s=%s;", dir, strings.Join(paths, ","))
	}
	return b.String()
}

func (m socketMapping) Set(value string) error {
	dir, paths, ok := strings.Cut(value, "=")
	if !ok || dir == "" || paths == "" {
		return fmt.Errorf("expected dir=path1,path2, got %q", value)
	}
	m[dir] = append(m[dir], strings.Split(paths, ",")...)
	return nil
}

// stringList implements flag.Value for repeated or comma-separated flags
// like -ignore and -ext.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(value string) error {
	*l = append(*l, strings.Split(value, ",")...)
	return nil
}

func main() {
	var (
		minimumValidity time.Duration
		renewalThreads  int
		refreshInterval time.Duration
		keepAlive       time.Duration
		recursive       bool
		noRecycle       bool
		oneOff          bool
		hookCmd         string
		logDir          string
		debug           bool
	)
	extensions := stringList(nil)
	ignore := stringList(nil)
	sockets := socketMapping{}

	flag.DurationVar(&minimumValidity, "minimum-validity", stapled.DefaultMinimumValidity,
		"remaining staple validity below which a renewal is due")
	flag.IntVar(&renewalThreads, "renewal-threads", stapled.DefaultRenewalThreads,
		"number of concurrent OCSP renewal workers")
	flag.DurationVar(&refreshInterval, "refresh-interval", stapled.DefaultRefreshInterval,
		"minimum time between directory scans")
	flag.Var(&extensions, "ext", "certificate file extensions to consider, repeatable or comma-separated")
	flag.Var(&ignore, "ignore", "glob ignore pattern, repeatable")
	flag.Var(&sockets, "socket", "admin socket mapping dir=path1,path2, repeatable")
	flag.DurationVar(&keepAlive, "haproxy-keepalive", stapled.DefaultHAProxyKeepAlive,
		"set timeout cli value sent to each admin socket")
	flag.BoolVar(&recursive, "recursive", false, "walk cert paths recursively")
	flag.BoolVar(&noRecycle, "no-recycle", false, "never adopt an existing .ocsp file, always renew")
	flag.BoolVar(&oneOff, "one-off", false, "run a single pass, drain the pipeline, and exit")
	flag.StringVar(&hookCmd, "hook", "", "optional program run with the raw staple on stdin after each renewal")
	flag.StringVar(&logDir, "log-dir", "", "directory for uncaught-panic stack traces")
	flag.BoolVar(&debug, "debug", false, "enable debug-level logging")
	flag.Parse()

	certPaths := flag.Args()
	if len(certPaths) == 0 {
		fmt.Fprintln(os.Stderr, "stapled: at least one certificate path is required")
		os.Exit(2)
	}

	cfg := stapled.Config{
		MinimumValidity:        minimumValidity,
		RenewalThreads:         renewalThreads,
		RefreshInterval:        refreshInterval,
		FileExtensions:         []string(extensions),
		CertPaths:              certPaths,
		HAProxySocketMapping:   map[string][]string(sockets),
		HAProxySocketKeepAlive: keepAlive,
		Recursive:              recursive,
		NoRecycle:              noRecycle,
		Ignore:                 []string(ignore),
		OneOff:                 oneOff,
		HookCmd:                hookCmd,
		LogDir:                 logDir,
	}

	logger, counter, err := stapled.NewLogger(debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stapled: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sv, err := stapled.NewSupervisor(cfg, logger, counter)
	if err != nil {
		logger.Sugar().Fatalw("invalid configuration", "error", err)
	}
	if err := sv.Run(); err != nil {
		logger.Sugar().Errorw("supervisor reported startup errors", "error", err)
	}

	if cfg.OneOff && counter.Count() > 0 {
		os.Exit(1)
	}
}

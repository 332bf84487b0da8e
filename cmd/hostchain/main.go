// Command hostchain sends and answers hash-chain authenticated requests and
// manages the persisted host state.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/karasz/hostchain"
	"github.com/karasz/hostchain/internal/log"
)

const (
	envStore    = "HOSTCHAIN_STORE"
	envLogLevel = "HOSTCHAIN_LOG_LEVEL"
	defStore    = "hosts.txt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	defer func() { _ = log.Sync() }()

	switch args[0] {
	case "send":
		return runSend(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stdout, stderr)
	case "hosts":
		return runHosts(args[1:], stdout, stderr)
	case "purge":
		return runPurge(args[1:], stdout, stderr)
	case "export":
		return runExport(args[1:], stdout, stderr)
	case "import":
		return runImport(args[1:], stdout, stderr)
	case "check":
		return runCheck(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: hostchain <send|serve|hosts|purge|export|import|check> [args]")
	fmt.Fprintln(w, "  send   [--store dsn] [--method GET|POST] [--insecure] [--ca file] <address>...")
	fmt.Fprintln(w, "  serve  --addr <ip:port> --realm <name>... [--store-dir dir] [--backend file|sqlite] [--cert f --key f]")
	fmt.Fprintln(w, "  hosts  [--store dsn]")
	fmt.Fprintln(w, "  purge  [--store dsn]")
	fmt.Fprintln(w, "  export [--store dsn] --out <file>")
	fmt.Fprintln(w, "  import [--store dsn] --in <file>")
	fmt.Fprintln(w, "  check  --file <hosts file>")
	fmt.Fprintf(w, "store dsn: file:<path> | sqlite:<path> | redis://<addr>/<key> | mem: (env %s)\n", envStore)
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type common struct {
	store    *string
	logLevel *string
	logJSON  *bool
}

func commonFlags(fs *flag.FlagSet) common {
	def := os.Getenv(envStore)
	if def == "" {
		def = defStore
	}
	lvl := os.Getenv(envLogLevel)
	if lvl == "" {
		lvl = "info"
	}
	return common{
		store:    fs.String("store", def, "host store dsn"),
		logLevel: fs.String("log-level", lvl, "debug|info|warn|error"),
		logJSON:  fs.Bool("log-json", false, "JSON log output"),
	}
}

func (c common) setup(stderr io.Writer) bool {
	if err := log.Init(*c.logLevel, *c.logJSON); err != nil {
		fmt.Fprintf(stderr, "log setup: %v\n", err)
		return false
	}
	return true
}

func openHosts(dsn string, stderr io.Writer) (*hostchain.HostStore, bool) {
	st, err := hostchain.OpenStore(dsn)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return nil, false
	}
	hs := hostchain.NewHostStore(st)
	if _, err := hs.LoadAll(); err != nil {
		fmt.Fprintf(stderr, "load hosts: %v\n", err)
		_ = hs.Close()
		return nil, false
	}
	return hs, true
}

func runSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	method := fs.String("method", http.MethodGet, "HTTP method")
	insecure := fs.Bool("insecure", false, "skip TLS certificate verification (unsafe)")
	caFile := fs.String("ca", "", "PEM file with extra root certificates")
	persistRejected := fs.Bool("persist-rejected", false, "persist exchanges the peer refused")
	parallel := fs.Int("parallel", 0, "max concurrent exchanges (0 = unbounded)")
	timeout := fs.Duration("timeout", 30*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "missing address")
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: *insecure} //nolint:gosec // opt-in flag
	if *caFile != "" {
		pem, err := os.ReadFile(*caFile)
		if err != nil {
			fmt.Fprintf(stderr, "read ca: %v\n", err)
			return 1
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			fmt.Fprintln(stderr, "no certificates in ca file")
			return 1
		}
		tlsCfg.RootCAs = pool
	}

	hs, ok := openHosts(*c.store, stderr)
	if !ok {
		return 1
	}
	defer hs.Close()

	client := hostchain.NewClient(hostchain.Config{
		PersistRejected: *persistRejected,
		Parallel:        *parallel,
	}, hs, hostchain.NewHTTPTransport(tlsCfg))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := client.ExchangeAll(ctx, strings.ToUpper(*method), fs.Args())
	code := 0
	for _, r := range results {
		fmt.Fprintf(stdout, "%s\t%s\tcounter=%d\t%s\n", r.Address, r.Outcome, r.Counter, strings.TrimSpace(r.Body))
		if r.Outcome != hostchain.OutcomeGranted {
			code = 2
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "send: %v\n", err)
		return 1
	}
	return code
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	addr := fs.String("addr", "", "listen addr (host:port)")
	storeDir := fs.String("store-dir", ".", "directory holding one store per realm")
	backend := fs.String("backend", "file", "per-realm store backend: file|sqlite")
	certFile := fs.String("cert", "", "TLS certificate (PEM)")
	keyFile := fs.String("key", "", "TLS key (PEM)")
	var realms, deny listFlag
	fs.Var(&realms, "realm", "realm to serve (repeatable)")
	fs.Var(&deny, "deny", "peer IP to refuse after authentication (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}
	if len(realms) == 0 {
		fmt.Fprintln(stderr, "missing --realm")
		return 1
	}
	if (*certFile == "") != (*keyFile == "") {
		fmt.Fprintln(stderr, "--cert and --key go together")
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}

	resp := hostchain.NewResponder()
	defer resp.Close()
	for _, realm := range realms {
		var dsn string
		switch *backend {
		case "file":
			dsn = "file:" + filepath.Join(*storeDir, realm+".hosts")
		case "sqlite":
			dsn = "sqlite:" + filepath.Join(*storeDir, realm+".db")
		default:
			fmt.Fprintf(stderr, "unknown backend: %s\n", *backend)
			return 1
		}
		hs, ok := openHosts(dsn, stderr)
		if !ok {
			return 1
		}
		resp.AddRealm(realm, hs)
	}
	if len(deny) > 0 {
		refused := make(map[string]struct{}, len(deny))
		for _, p := range deny {
			refused[p] = struct{}{}
		}
		resp.SetPolicy(func(_, peer string) bool {
			_, no := refused[peer]
			return !no
		})
	}

	srv := hostchain.NewServer(resp).HTTPServer(*addr)
	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", *addr), zap.Strings("realms", realms))
		if *certFile != "" {
			errc <- srv.ListenAndServeTLS(*certFile, *keyFile)
			return
		}
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 1
		}
		return 0
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "shutdown complete")
	return 0
}

func runHosts(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hosts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}
	hs, ok := openHosts(*c.store, stderr)
	if !ok {
		return 1
	}
	defer hs.Close()

	for _, h := range hs.Hosts() {
		fmt.Fprintf(stdout, "%s\t%s\t%d\n", h.Address(), h.Seed(), h.Counter())
	}
	return 0
}

func runPurge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}
	hs, ok := openHosts(*c.store, stderr)
	if !ok {
		return 1
	}
	defer hs.Close()

	if err := hs.Purge(); err != nil {
		fmt.Fprintf(stderr, "purge: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "hosts list cleared")
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	out := fs.String("out", "", "snapshot file to write")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *out == "" {
		fmt.Fprintln(stderr, "missing --out")
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}
	st, err := hostchain.OpenStore(*c.store)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	snap, err := hostchain.ExportSnapshot(st, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	b, err := hostchain.MarshalSnapshot(snap)
	if err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, b, 0600); err != nil {
		fmt.Fprintf(stderr, "write: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d hosts\n", len(snap.Records))
	return 0
}

func runImport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := commonFlags(fs)
	in := fs.String("in", "", "snapshot file to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *in == "" {
		fmt.Fprintln(stderr, "missing --in")
		return 1
	}
	if !c.setup(stderr) {
		return 1
	}
	b, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(stderr, "read: %v\n", err)
		return 1
	}
	snap, err := hostchain.UnmarshalSnapshot(b)
	if err != nil {
		fmt.Fprintf(stderr, "decode: %v\n", err)
		return 1
	}
	st, err := hostchain.OpenStore(*c.store)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	imported, skipped, err := hostchain.ImportSnapshot(st, snap)
	if err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "imported %d hosts, skipped %d existing\n", imported, skipped)
	return 0
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "line-format hosts file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *file == "" {
		fmt.Fprintln(stderr, "missing --file")
		return 1
	}
	rep, err := hostchain.AuditFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "check: %v\n", err)
		return 1
	}
	for _, is := range rep.Malformed {
		fmt.Fprintf(stdout, "line %d: malformed: %v\n", is.Line, is.Err)
	}
	for _, is := range rep.Duplicates {
		fmt.Fprintf(stdout, "line %d: duplicate: %v\n", is.Line, is.Err)
	}
	fmt.Fprintf(stdout, "%d records, %d malformed, %d duplicates\n", rep.Records, len(rep.Malformed), len(rep.Duplicates))
	if !rep.OK() {
		return 2
	}
	return 0
}

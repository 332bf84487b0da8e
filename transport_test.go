package hostchain

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

//revive:disable:cyclomatic High complexity acceptable in tests
//revive:disable:cognitive-complexity High complexity acceptable in tests
//revive:disable:function-length Long test functions are acceptable

func TestNewHTTPTransport(t *testing.T) {
	transport := NewHTTPTransport(nil)
	if transport == nil {
		t.Fatal("NewHTTPTransport returned nil")
	}
	if transport.Client == nil {
		t.Error("HTTP client should not be nil")
	}
	if transport.Client.Transport != nil {
		t.Error("nil TLS config should keep the default transport")
	}

	transport = NewHTTPTransport(&tls.Config{MinVersion: tls.VersionTLS13})
	ht, ok := transport.Client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("Expected *http.Transport")
	}
	if ht.TLSClientConfig.MinVersion != tls.VersionTLS13 {
		t.Error("TLS config not applied")
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	var gotMethod, gotBody string
	var gotHeader http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set(HeaderChecksum, "abc")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Host x - GRANTED"))
	}))
	defer ts.Close()

	tr := NewHTTPTransport(nil)
	resp, err := tr.Send(context.Background(), &Request{
		Method:  "POST",
		Address: ts.URL + "/x",
		Header:  map[string]string{HeaderTimeSent: "T0", HeaderChecksum: "def"},
		Body:    []byte("hello"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusAccepted || resp.Checksum != "abc" || resp.Body != "Host x - GRANTED" {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotMethod != "POST" || gotBody != "hello" {
		t.Errorf("server saw %s %q", gotMethod, gotBody)
	}
	if gotHeader.Get(HeaderTimeSent) != "T0" || gotHeader.Get(HeaderChecksum) != "def" {
		t.Errorf("headers not sent: %v", gotHeader)
	}
}

func TestHTTPTransport_DefaultMethod(t *testing.T) {
	var gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer ts.Close()

	if _, err := NewHTTPTransport(nil).Send(context.Background(), &Request{Address: ts.URL}); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("Expected GET, got %s", gotMethod)
	}
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewHTTPTransport(nil).Send(ctx, &Request{Address: url}); err == nil {
		t.Error("Expected error for closed server")
	}
}

func TestClient_OverHTTPS(t *testing.T) {
	resp, srvStores := newTestResponder(t, "r1", "r2")
	ts := httptest.NewTLSServer(NewServer(resp).Router())
	defer ts.Close()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	tr := NewHTTPTransport(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})

	cliStore := NewMemStore()
	c := NewClient(Config{Now: fixedNow}, NewHostStore(cliStore), tr)

	addrs := []string{ts.URL + "/r1", ts.URL + "/r2", ts.URL + "/r1"}
	results, err := c.ExchangeAll(context.Background(), "GET", addrs)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Outcome != OutcomeGranted {
			t.Errorf("exchange %d to %s: %s %q", i, r.Address, r.Outcome, r.Body)
		}
	}

	recs, _ := cliStore.Load()
	stored := make(map[string]uint64)
	for _, r := range recs {
		stored[r.Address] = r.Stored
	}
	if stored[ts.URL+"/r1"] != 6 || stored[ts.URL+"/r2"] != 4 {
		t.Errorf("client store %+v", recs)
	}
	srv, _ := srvStores["r1"].Load()
	if len(srv) != 1 || srv[0].Address != "127.0.0.1" || srv[0].Stored != 6 {
		t.Errorf("server store %+v", srv)
	}
}

func TestClient_OverHTTPUntrustedCert(t *testing.T) {
	resp, _ := newTestResponder(t, "r1")
	ts := httptest.NewTLSServer(NewServer(resp).Router())
	defer ts.Close()

	c := NewClient(Config{Now: fixedNow}, NewHostStore(NewMemStore()), NewHTTPTransport(&tls.Config{MinVersion: tls.VersionTLS12}))
	if _, err := c.Exchange(context.Background(), "GET", ts.URL+"/r1", nil); err == nil {
		t.Error("Expected certificate error")
	}
}

func TestLocalTransport_Send(t *testing.T) {
	resp, _ := newTestResponder(t, "r1")
	tr := NewLocalTransport(resp, "p")

	out, err := tr.Send(context.Background(), &Request{
		Address: "local:r1",
		Header:  map[string]string{HeaderTimeSent: "T0", HeaderChecksum: ChainValue("T0", 0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Checksum != ChainValue("T0", 1) {
		t.Errorf("unexpected response %+v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Send(ctx, &Request{Address: "local:r1"}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestRealmOf(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"https://srv.example/r1", "r1"},
		{"https://srv.example:8443/a/b/r2", "r2"},
		{"https://srv.example/r3?x=1", "r3"},
		{"local:r4", "r4"},
	}
	for _, tt := range tests {
		got, err := realmOf(tt.addr)
		if err != nil {
			t.Errorf("%s: %v", tt.addr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.addr, got, tt.want)
		}
	}
	for _, bad := range []string{"https://srv.example", "https://srv.example/", "://bad"} {
		if _, err := realmOf(bad); err == nil {
			t.Errorf("%s: Expected error", bad)
		}
	}
}

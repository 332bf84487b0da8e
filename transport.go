package hostchain

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

// maxReplyBody caps how much of a reply body is read.
const maxReplyBody = 1 << 20

// Request is one authenticated message to a remote host.
type Request struct {
	Method  string
	Address string            // endpoint URL; also the host's key
	Header  map[string]string // authentication headers from Host.BuildHeaders
	Body    []byte
}

// Response is what the core needs from a reply.
type Response struct {
	Status   int
	Checksum string // X-Checksum reply header
	Body     string
}

// Transport delivers a Request and returns the peer's reply.
// Different implementations can use HTTP, an in-process responder, etc.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport implements Transport using HTTP/HTTPS.
type HTTPTransport struct {
	Client *http.Client // HTTP client (can customize timeouts, TLS, etc.)
}

// NewHTTPTransport creates an HTTP transport. A nil tlsCfg uses Go defaults.
func NewHTTPTransport(tlsCfg *tls.Config) *HTTPTransport {
	client := &http.Client{}
	if tlsCfg != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlsCfg.Clone()
		client.Transport = tr
	}
	return &HTTPTransport{Client: client}
}

// Send performs the request and collects the checksum header and body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.Address, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}

	resp, err := t.Client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return &Response{
		Status:   resp.StatusCode,
		Checksum: resp.Header.Get(HeaderChecksum),
		Body:     string(b),
	}, nil
}

// LocalTransport delivers requests to an in-process Responder.
// Useful for testing or single-machine deployments where both sides are co-located.
type LocalTransport struct {
	Responder *Responder
	Peer      string // identity the responder sees, like a remote IP
}

// NewLocalTransport creates a transport that talks to r as peer.
func NewLocalTransport(r *Responder, peer string) *LocalTransport {
	return &LocalTransport{Responder: r, Peer: peer}
}

// Send hands the request to the responder realm named by the last path
// element of the address.
func (t *LocalTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	realm, err := realmOf(req.Address)
	if err != nil {
		return nil, err
	}
	reply, err := t.Responder.Respond(realm, t.Peer, req.Header[HeaderTimeSent], req.Header[HeaderChecksum])
	if err != nil {
		return nil, err
	}
	return &Response{Status: reply.Status, Checksum: reply.Checksum, Body: reply.Body}, nil
}

func realmOf(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	realm := path.Base(p)
	if realm == "." || realm == "/" || realm == "" {
		return "", fmt.Errorf("no realm in address %q", address)
	}
	return realm, nil
}

package hostchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/karasz/hostchain/internal/log"
)

// Config controls client behavior.
type Config struct {
	// GrantToken is the verdict word that marks a grant in a reply body
	// ("Host <realm> - <verdict> - Packet no: N"). Empty means GrantToken.
	GrantToken string
	// PersistRejected also persists exchanges the peer authenticated but
	// refused. Off by default: only granted exchanges reach the store.
	PersistRejected bool
	// Now supplies the seed time for new hosts. Nil means time.Now.
	Now func() time.Time
	// Parallel bounds ExchangeAll concurrency (0 = unbounded).
	Parallel int
}

// Result describes one finished exchange.
type Result struct {
	Address string
	Outcome Outcome
	Counter uint64 // counter after the exchange
	Status  int
	Body    string
	Created bool // the host was first contacted by this exchange
}

// Client runs authenticated exchanges against remote hosts. It owns the
// HostStore; all state for a host goes through the single *Host it holds.
type Client struct {
	cfg       Config
	hosts     *HostStore
	transport Transport
}

// NewClient creates a client over hosts using tr.
func NewClient(cfg Config, hosts *HostStore, tr Transport) *Client {
	if cfg.GrantToken == "" {
		cfg.GrantToken = GrantToken
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{cfg: cfg, hosts: hosts, transport: tr}
}

// Hosts returns the client's host store.
func (c *Client) Hosts() *HostStore { return c.hosts }

// Exchange sends one authenticated request to address and evaluates the reply.
//
// The host's counter moves once when the request is built and once more
// when the reply validates. WrongChecksum leaves it one step ahead with
// nothing persisted. Exchanges to the same address are serialized.
func (c *Client) Exchange(ctx context.Context, method, address string, body []byte) (Result, error) {
	h, created, err := c.hosts.Obtain(address, c.cfg.Now())
	if errors.Is(err, ErrStorageUnavailable) {
		log.Warn("host tracked in memory only", zap.String("address", address), zap.Error(err))
	} else if err != nil {
		return Result{}, fmt.Errorf("obtain host: %w", err)
	}

	h.Lock()
	defer h.Unlock()

	res := Result{Address: address, Created: created}
	req := &Request{Method: method, Address: address, Header: h.BuildHeaders(), Body: body}
	log.Debug("connection",
		zap.String("direction", "outbound"),
		zap.String("address", address),
		zap.Uint64("counter", h.Counter()))

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		log.Error("send failed", zap.String("address", address), zap.Error(err))
		res.Outcome = OutcomeWrongChecksum
		res.Counter = h.Counter()
		return res, fmt.Errorf("send: %w", err)
	}
	res.Status = resp.Status
	res.Body = resp.Body

	res.Outcome = Evaluate(h, resp.Checksum, granted(resp.Body, c.cfg.GrantToken))
	if res.Outcome.Validated() {
		h.Advance()
	}
	res.Counter = h.Counter()

	fields := []zap.Field{
		zap.String("direction", "inbound"),
		zap.String("address", address),
		zap.Stringer("outcome", res.Outcome),
		zap.Uint64("counter", res.Counter),
	}
	switch res.Outcome {
	case OutcomeGranted:
		log.Info("connection", fields...)
	case OutcomeRejected:
		log.Warn("connection", fields...)
	default:
		log.Error("connection", fields...)
	}

	if res.Outcome == OutcomeGranted || (res.Outcome == OutcomeRejected && c.cfg.PersistRejected) {
		if err := c.hosts.Upsert(h); err != nil {
			return res, fmt.Errorf("persist host: %w", err)
		}
	}
	return res, nil
}

// granted reports whether body carries token as its verdict. The realm name
// appears in the body too, so only the verdict position counts.
func granted(body, token string) bool {
	if body == token {
		return true
	}
	if i := strings.LastIndex(body, packetMarker); i >= 0 && isDigits(body[i+len(packetMarker):]) {
		body = body[:i]
	}
	return strings.HasSuffix(body, " - "+token)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ExchangeAll runs one exchange per address. Distinct addresses run
// concurrently; repeated addresses queue behind each other. Results are in
// input order. The first error is returned once every exchange finished.
func (c *Client) ExchangeAll(ctx context.Context, method string, addresses []string) ([]Result, error) {
	results := make([]Result, len(addresses))
	var g errgroup.Group
	if c.cfg.Parallel > 0 {
		g.SetLimit(c.cfg.Parallel)
	}
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			res, err := c.Exchange(ctx, method, addr, nil)
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

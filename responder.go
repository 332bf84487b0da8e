package hostchain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/karasz/hostchain/internal/log"
)

// DeniedChecksum replaces the chain value in replies to peers that failed
// authentication, so nothing about the expected value leaks.
const DeniedChecksum = "[YOU ARE NOT GETTING IT]"

// GrantToken marks a reply body that grants the request.
const GrantToken = "GRANTED"

const packetMarker = " - Packet no: "

// ErrUnknownRealm is returned for requests to a realm the responder does not serve.
var ErrUnknownRealm = errors.New("unknown realm")

// Reply is the responder's answer to one request.
type Reply struct {
	Status   int
	Body     string
	Checksum string
	Outcome  Outcome
}

// Policy decides whether an authenticated peer gets what it asked for.
// A refusal still carries a valid checksum.
type Policy func(realm, peer string) bool

// Responder is the remote-host side of the scheme. Each realm is an
// independent endpoint with its own set of known peers.
type Responder struct {
	mu     sync.RWMutex
	realms map[string]*HostStore
	policy Policy
}

// NewResponder creates a responder with no realms and no policy.
func NewResponder() *Responder {
	return &Responder{realms: make(map[string]*HostStore)}
}

// AddRealm serves name from hs.
func (r *Responder) AddRealm(name string, hs *HostStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realms[name] = hs
}

// Realm returns the host store behind name.
func (r *Responder) Realm(name string) (*HostStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs, ok := r.realms[name]
	return hs, ok
}

// SetPolicy installs p; nil grants every authenticated peer.
func (r *Responder) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Close closes the host store of every realm.
func (r *Responder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, hs := range r.realms {
		if err := hs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close realm %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Responder) allowed(realm, peer string) bool {
	r.mu.RLock()
	p := r.policy
	r.mu.RUnlock()
	return p == nil || p(realm, peer)
}

// Respond authenticates one request from peer to realm.
//
// An unknown peer is registered with the seed it disclosed in timeSent. A
// request whose checksum matches moves the peer's counter forward once for
// the request, is answered with the chain value for that counter, and moves
// it once more for the reply before the exchange is persisted.
func (r *Responder) Respond(realm, peer, timeSent, checksum string) (Reply, error) {
	hs, ok := r.Realm(realm)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownRealm, realm)
	}

	h, err := r.peer(hs, realm, peer, timeSent)
	if err != nil {
		return Reply{}, err
	}
	if h == nil {
		log.Warn("refused first contact without seed",
			zap.String("realm", realm), zap.String("peer", peer))
		return deny(realm), nil
	}

	h.Lock()
	defer h.Unlock()

	if !checksumEqual(checksum, h.ExpectedChainValue()) {
		log.Error("connection",
			zap.String("direction", "inbound"),
			zap.String("realm", realm),
			zap.String("peer", peer),
			zap.Stringer("outcome", OutcomeWrongChecksum),
			zap.Uint64("counter", h.Counter()))
		return deny(realm), nil
	}

	h.Advance()
	reply := Reply{Status: http.StatusOK, Outcome: OutcomeGranted}
	if r.allowed(realm, peer) {
		reply.Body = "Host " + realm + " - " + GrantToken + packetMarker + strconv.FormatUint(h.Counter(), 10)
	} else {
		reply.Body = "Host " + realm + " - DENIED"
		reply.Outcome = OutcomeRejected
	}
	reply.Checksum = h.ExpectedChainValue()
	h.Advance()

	if err := hs.Upsert(h); err != nil {
		log.Warn("persist host failed",
			zap.String("realm", realm), zap.String("peer", peer), zap.Error(err))
	}
	log.Info("connection",
		zap.String("direction", "inbound"),
		zap.String("realm", realm),
		zap.String("peer", peer),
		zap.Stringer("outcome", reply.Outcome),
		zap.Uint64("counter", h.Counter()))
	return reply, nil
}

// peer returns the tracked host for peer, registering it on first contact.
// It returns nil when the peer is unknown and disclosed no usable seed.
func (r *Responder) peer(hs *HostStore, realm, peer, timeSent string) (*Host, error) {
	if h, ok := hs.Lookup(peer); ok {
		return h, nil
	}
	if timeSent == "" || timeSent == Sentinel {
		return nil, nil
	}

	h := NewHostWithSeed(peer, timeSent)
	err := hs.Append(h)
	switch {
	case err == nil:
		log.Info("new peer", zap.String("realm", realm), zap.String("peer", peer))
		return h, nil
	case errors.Is(err, ErrHostExists):
		if existing, ok := hs.Lookup(peer); ok {
			return existing, nil
		}
		return nil, err
	case errors.Is(err, ErrStorageUnavailable):
		log.Warn("peer tracked in memory only",
			zap.String("realm", realm), zap.String("peer", peer), zap.Error(err))
		return h, nil
	default:
		return nil, err
	}
}

func deny(realm string) Reply {
	return Reply{
		Status:   http.StatusOK,
		Body:     "Host " + realm + " - DENIED",
		Checksum: DeniedChecksum,
		Outcome:  OutcomeWrongChecksum,
	}
}

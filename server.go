package hostchain

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/karasz/hostchain/internal/log"
)

// Server exposes a Responder over HTTP(S).
type Server struct {
	Responder *Responder
	tlsConfig *tls.Config
}

// NewServer creates a server for r.
func NewServer(r *Responder) *Server {
	return &Server{Responder: r}
}

// SetTLSConfig clones cfg and stores it for use when serving HTTPS requests.
// If cfg is nil a default configuration will be used.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	if cfg == nil {
		s.tlsConfig = nil
		return
	}
	s.tlsConfig = cfg.Clone()
}

// hostView is the JSON form of a tracked peer. The seed is never listed.
type hostView struct {
	Address string `json:"address"`
	Counter uint64 `json:"counter"`
}

// HandleExchange handles GET|POST /{realm} - one authenticated request.
func (s *Server) HandleExchange(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	peer := remoteIP(r)

	reply, err := s.Responder.Respond(realm, peer, r.Header.Get(HeaderTimeSent), r.Header.Get(HeaderChecksum))
	if errors.Is(err, ErrUnknownRealm) {
		http.Error(w, "unknown realm", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("respond failed", zap.String("realm", realm), zap.String("peer", peer), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderChecksum, reply.Checksum)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(reply.Status)
	_, _ = w.Write([]byte(reply.Body))
}

// HandleHosts handles GET /api/v1/realms/{realm}/hosts - list tracked peers.
func (s *Server) HandleHosts(w http.ResponseWriter, r *http.Request) {
	realm := mux.Vars(r)["realm"]
	hs, ok := s.Responder.Realm(realm)
	if !ok {
		http.Error(w, "unknown realm", http.StatusNotFound)
		return
	}

	hosts := hs.Hosts()
	out := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, hostView{Address: h.Address(), Counter: h.Counter()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"realm": realm,
		"hosts": out,
	})
}

// Router configures the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/realms/{realm}/hosts", s.HandleHosts).Methods(http.MethodGet)
	r.HandleFunc("/{realm}", s.HandleExchange).Methods(http.MethodGet, http.MethodPost)
	return r
}

func (s *Server) tlsConfigWithDefaults() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// HTTPServer builds an *http.Server for addr serving the router.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:      addr,
		Handler:   s.Router(),
		TLSConfig: s.tlsConfigWithDefaults(),
	}
}

// ListenAndServeTLS starts the HTTPS server.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	return s.HTTPServer(addr).ListenAndServeTLS(certFile, keyFile)
}

// remoteIP identifies the peer by IP, without the ephemeral port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

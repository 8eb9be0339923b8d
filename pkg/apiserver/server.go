package apiserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/contract"
	"github.com/cuemby/warpengine/pkg/evaluator"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/metrics"
	"github.com/cuemby/warpengine/pkg/sortkey"
	"github.com/cuemby/warpengine/pkg/verify"
)

// ContractResolver builds a *contract.Contract on demand for a given
// transaction id, so the server doesn't need to know every deployed
// contract up front.
type ContractResolver interface {
	Resolve(txID string) *contract.Contract
}

// ResolverFunc adapts a plain function to a ContractResolver.
type ResolverFunc func(txID string) *contract.Contract

func (f ResolverFunc) Resolve(txID string) *contract.Contract { return f(txID) }

// Server is the HTTP surface over the contract facade (state reads, view,
// dry-write and interaction submission), plus a
// small admin surface (cache pruning, blacklist/allowlist edits) gated
// behind a bearer token.
type Server struct {
	resolver  ContractResolver
	cacheSvc  cache.SortKeyCache
	blacklist *verify.Blacklist
	allowlist *verify.SourceAllowlist
	tokens    *TokenManager
	logger    zerolog.Logger
	router    *mux.Router
}

// New builds a Server. cacheSvc, blacklist and allowlist may be nil if this
// deployment doesn't expose the corresponding admin endpoints.
func New(resolver ContractResolver, cacheSvc cache.SortKeyCache, blacklist *verify.Blacklist, allowlist *verify.SourceAllowlist, tokens *TokenManager) *Server {
	s := &Server{
		resolver:  resolver,
		cacheSvc:  cacheSvc,
		blacklist: blacklist,
		allowlist: allowlist,
		tokens:    tokens,
		logger:    log.WithComponent("apiserver"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the server's http.Handler, ready to pass to
// http.ListenAndServe or wrap with further middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/contracts/{txID}/state", s.handleReadState).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{txID}/state/current", s.handleCurrentState).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{txID}/view", s.handleViewState).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{txID}/dry-write", s.handleDryWrite).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{txID}/balance/{address}", s.handleCurrentBalance).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{txID}/interactions", s.handleWriteInteraction).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdminToken)
	admin.HandleFunc("/cache/{txID}/prune", s.handleCachePrune).Methods(http.MethodPost)
	admin.HandleFunc("/cache/{txID}/keys", s.handleCacheKeys).Methods(http.MethodGet)
	admin.HandleFunc("/blacklist/{txID}", s.handleBlacklistAdd).Methods(http.MethodPost)
	admin.HandleFunc("/blacklist/{txID}", s.handleBlacklistRemove).Methods(http.MethodDelete)
	admin.HandleFunc("/allowlist/{srcTxID}", s.handleAllowlistAdd).Methods(http.MethodPost)
	admin.HandleFunc("/allowlist/{srcTxID}", s.handleAllowlistRemove).Methods(http.MethodDelete)

	r.Handle("/metrics", metrics.Handler())
	r.Handle("/health", metrics.HealthHandler())
	r.Handle("/ready", metrics.ReadyHandler())
	r.Handle("/live", metrics.LivenessHandler())

	return r
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("admin endpoints are disabled on this deployment"))
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		if !s.tokens.Validate(header[len(prefix):]) {
			writeError(w, http.StatusUnauthorized, errors.New("invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReadState(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txID"]
	c := s.resolver.Resolve(txID)

	key := sortkey.Genesis
	if q := r.URL.Query().Get("sortKey"); q != "" {
		key = sortkey.Key(q)
	} else {
		key = evaluator.Latest()
	}

	resolvedKey, result, err := c.ReadState(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sortKey": string(resolvedKey),
		"result":  result,
	})
}

func (s *Server) handleCurrentState(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txID"]
	c := s.resolver.Resolve(txID)

	result, err := c.CurrentState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleViewState(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txID"]
	c := s.resolver.Resolve(txID)

	input, caller, err := readInteractionBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := c.ViewState(r.Context(), input, caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDryWrite(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txID"]
	c := s.resolver.Resolve(txID)

	input, caller, err := readInteractionBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := c.DryWrite(r.Context(), input, caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCurrentBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c := s.resolver.Resolve(vars["txID"])

	balance, err := c.CurrentBalance(r.Context(), vars["address"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleWriteInteraction(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["txID"]
	c := s.resolver.Resolve(txID)

	input, _, err := readInteractionBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := c.WriteInteraction(r.Context(), input, contract.WriteOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"interactionId": id})
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	if s.cacheSvc == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no cache configured on this deployment"))
		return
	}
	txID := mux.Vars(r)["txID"]
	keys, err := s.cacheSvc.Keys(txID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": out})
}

func (s *Server) handleCachePrune(w http.ResponseWriter, r *http.Request) {
	if s.cacheSvc == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no cache configured on this deployment"))
		return
	}
	txID := mux.Vars(r)["txID"]
	retain := 10
	if q := r.URL.Query().Get("retain"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		retain = n
	}
	pruned, err := s.cacheSvc.Prune(txID, retain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": pruned})
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	if s.blacklist == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no blacklist configured on this deployment"))
		return
	}
	txID := mux.Vars(r)["txID"]
	if err := s.blacklist.Add(txID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Warn().Str("contract", txID).Msg("blacklisted contract")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	if s.blacklist == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no blacklist configured on this deployment"))
		return
	}
	txID := mux.Vars(r)["txID"]
	if err := s.blacklist.Remove(txID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllowlistAdd(w http.ResponseWriter, r *http.Request) {
	if s.allowlist == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no allowlist configured on this deployment"))
		return
	}
	srcTxID := mux.Vars(r)["srcTxID"]
	if err := s.allowlist.Add(srcTxID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllowlistRemove(w http.ResponseWriter, r *http.Request) {
	if s.allowlist == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no allowlist configured on this deployment"))
		return
	}
	srcTxID := mux.Vars(r)["srcTxID"]
	if err := s.allowlist.Remove(srcTxID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type interactionBody struct {
	Caller string          `json:"caller"`
	Input  json.RawMessage `json:"input"`
}

func readInteractionBody(r *http.Request) (json.RawMessage, string, error) {
	defer r.Body.Close()
	var body interactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, "", err
	}
	if len(body.Input) == 0 {
		return nil, "", errors.New("missing \"input\" field")
	}
	return body.Input, body.Caller, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe runs the server's handler until ctx is canceled,
// mirroring the teacher's metrics-endpoint serve loop but bound to a
// context instead of running forever.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("apiserver listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ListenAndServeTLS is ListenAndServe with the given certificate terminating
// TLS, for deployments that don't sit behind a TLS-terminating proxy. The
// admin bearer token in requireAdminToken is not a substitute for transport
// security: plaintext HTTP leaks it to anyone on the network path.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr string, cert tls.Certificate) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}

	if CertNeedsRotation(cert) {
		s.logger.Warn().Msg("apiserver TLS certificate is within its rotation window")
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("apiserver listening (tls)")
		errCh <- srv.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

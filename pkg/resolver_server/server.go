// Package resolver_server is a reference implementation of the resolver side
// of the secret resolution protocol, used for testing and interoperability.
package resolver_server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/manus-ai/secret-resolver/pkg/config"
	"github.com/manus-ai/secret-resolver/pkg/metrics"
	"github.com/manus-ai/secret-resolver/pkg/types"
)

// resolutionQuery is the part of a SecretResolutionRequest the server reads.
type resolutionQuery struct {
	SecretHash *common.Hash `json:"secrethash"`
}

// Server answers secret resolution requests from a SecretStore
type Server struct {
	config     *config.ServerConfig
	store      SecretStore
	router     *mux.Router
	httpServer *http.Server
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewServer creates a new resolver server. When m is non-nil its collectors
// are served on GET /metrics.
func NewServer(cfg *config.ServerConfig, store SecretStore, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		store:   store,
		metrics: m,
		logger:  logger,
	}

	router := mux.NewRouter()
	if m != nil {
		router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	router.PathPrefix("/").Methods(http.MethodPost).HandlerFunc(s.handleResolve)
	s.router = router

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured listen address until Stop is called
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Stop is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Resolver server listening", zap.String("address", l.Addr().String()))

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Resolver server stopping")
	return s.httpServer.Shutdown(ctx)
}

// handleResolve answers 200 with the secret, 404 when it is unknown or the
// request carries no secrethash, and 400 on any other fault.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	status, payload := http.StatusBadRequest, []byte(nil)

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Recovered from panic while resolving", zap.Any("panic", rec))
			status, payload = http.StatusBadRequest, nil
		}
		s.respond(w, status, payload)
	}()

	status, payload = s.resolve(w, r)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (int, []byte) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.logger.Debug("Failed to read request body", zap.Error(err))
		return http.StatusBadRequest, nil
	}

	var query resolutionQuery
	if err := json.Unmarshal(body, &query); err != nil {
		s.logger.Debug("Failed to parse request", zap.Error(err))
		return http.StatusBadRequest, nil
	}

	if query.SecretHash == nil {
		return http.StatusNotFound, nil
	}

	secret, ok := s.store.Lookup(*query.SecretHash)
	if !ok {
		s.logger.Debug("Unknown secrethash", zap.String("secrethash", query.SecretHash.Hex()))
		return http.StatusNotFound, nil
	}

	encoded := hexutil.Bytes(secret)
	payload, err := json.Marshal(types.SecretResolutionResponse{Secret: &encoded})
	if err != nil {
		return http.StatusBadRequest, nil
	}

	s.logger.Debug("Resolved secrethash", zap.String("secrethash", query.SecretHash.Hex()))
	return http.StatusOK, payload
}

func (s *Server) respond(w http.ResponseWriter, status int, payload []byte) {
	s.metrics.ServerResponse(status)

	if payload != nil {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if payload != nil {
		if _, err := w.Write(payload); err != nil {
			s.logger.Debug("Failed to write response", zap.Error(err))
		}
	}
}

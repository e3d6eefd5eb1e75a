package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	metricsapi "github.com/VanDung-dev/HieraChain-Relay/api"
	"github.com/VanDung-dev/HieraChain-Relay/arrow"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

// ArrowStreamType is the media type of Arrow IPC stream responses.
const ArrowStreamType = "application/vnd.apache.arrow.stream"

// Relay is the node surface the admin server reads and drives.
type Relay interface {
	IsRunning() bool
	Status() network.Status
	Peers() []network.PeerLink
	InboundPeers() []string
	PeerHistory() []network.HistoryEntry
	UsersOnline() map[string]network.User
	Connect(address string) error
	SendNetworkMessage(data, config map[string]any) (string, error)
}

// AdminServer serves node status, metrics and peer history over HTTP.
type AdminServer struct {
	relay   Relay
	metrics *metricsapi.Metrics
	auth    *Authenticator
	codec   *arrow.PeerTableCodec
	log     *zap.Logger

	router  *mux.Router
	handler http.Handler

	server    *http.Server
	listener  net.Listener
	running   bool
	startTime time.Time
	mu        sync.Mutex
}

// NewAdminServer creates an admin server for relay. A nil auth leaves the
// write routes open.
func NewAdminServer(relay Relay, metrics *metricsapi.Metrics, auth *Authenticator, logger *zap.Logger) *AdminServer {
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AdminServer{
		relay:     relay,
		metrics:   metrics,
		auth:      auth,
		codec:     arrow.NewPeerTableCodec(),
		log:       logger.Named("admin"),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	s.router = mux.NewRouter()

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	s.router.HandleFunc("/health", s.getHealth).Methods("GET")
	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/peers", s.getPeers).Methods("GET")
	s.router.HandleFunc("/users", s.getUsers).Methods("GET")
	s.router.HandleFunc("/history", s.getHistory).Methods("GET")

	write := s.router.NewRoute().Subrouter()
	write.Use(s.auth.Middleware)
	write.HandleFunc("/connect", s.postConnect).Methods("POST")
	write.HandleFunc("/broadcast", s.postBroadcast).Methods("POST")

	s.router.Use(s.loggingMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.router)
}

// Handler returns the routed handler with CORS applied.
func (s *AdminServer) Handler() http.Handler {
	return s.handler
}

// StartAsync starts serving on address in a background goroutine.
func (s *AdminServer) StartAsync(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.listener = lis
	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.running = true
	s.startTime = time.Now()

	srv := s.server
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Admin server stopped", zap.Error(err))
		}
	}()

	s.log.Info("Admin server listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr returns the listening address, or nil before StartAsync.
func (s *AdminServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *AdminServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

func (s *AdminServer) getHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.relay.IsRunning() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *AdminServer) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

func (s *AdminServer) getPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"outbound": s.relay.Peers(),
		"inbound":  s.relay.InboundPeers(),
	})
}

func (s *AdminServer) getUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.UsersOnline())
}

// getHistory streams current and past peers as an Arrow IPC table.
func (s *AdminServer) getHistory(w http.ResponseWriter, r *http.Request) {
	var rows []arrow.PeerRow
	for _, p := range s.relay.Peers() {
		rows = append(rows, arrow.PeerRow{Address: p.Address, State: arrow.StateActive, ConnectedAt: p.ConnectedAt})
	}
	for _, h := range s.relay.PeerHistory() {
		rows = append(rows, arrow.PeerRow{
			Address:        h.Address,
			State:          arrow.StatePast,
			ConnectedAt:    h.ConnectedAt,
			DisconnectedAt: h.DisconnectedAt,
		})
	}

	data, err := s.codec.Serialize(rows)
	if err != nil {
		s.log.Error("Failed to encode peer history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", ArrowStreamType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type connectRequest struct {
	Address string `json:"address"`
}

func (s *AdminServer) postConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.relay.Connect(req.Address); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": req.Address})
}

type broadcastRequest struct {
	Data   map[string]any `json:"data"`
	Config map[string]any `json:"config"`
}

func (s *AdminServer) postBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.relay.SendNetworkMessage(req.Data, req.Config)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": id})
}

// statusFor maps node errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, network.ErrInvalidArgument),
		errors.Is(err, network.ErrEmptyHandshake),
		errors.Is(err, network.ErrEmptyMessage),
		errors.Is(err, network.ErrSelfConnect):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, network.ErrNodeNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, network.ErrTransportFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *AdminServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		s.log.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error":     err.Error(),
		"status":    code,
		"timestamp": time.Now().Unix(),
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/internal/tracing"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/history"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	// SecretHeader carries the shared secret on HTTP RPC requests
	SecretHeader = "X-Cmdq-Secret"
	// TraceHeader lets an HTTP caller supply its trace id
	TraceHeader = "X-Trace-Id"
)

const maxRPCBody = 1 << 20

// HistoryReader is the journal view served by history.list
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	TickInterval time.Duration
	Processor    *commandqueue.Processor
	// Queue defaults to the processor's queue
	Queue   *commandqueue.Queue
	History HistoryReader
	// StartTimeout and StopTimeout bound processor.start and
	// processor.stop/skip when the caller sends no timeout
	StartTimeout      time.Duration
	StopTimeout       time.Duration
	RequestsPerMinute int
	MaxConcurrent     int
	ShutdownTimeout   time.Duration
	Logger            zerolog.Logger
}

// Server is the websocket and HTTP JSON-RPC front of the processor
type Server struct {
	host            string
	port            int
	tickInterval    time.Duration
	startTimeout    time.Duration
	stopTimeout     time.Duration
	shutdownTimeout time.Duration
	requestsPerMin  int
	maxConcurrent   int

	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	router      *RPCRouter
	auth        *Authenticator
	broadcaster *EventBroadcaster
	rpcLimiter  *AddressRateLimiter

	queue     *commandqueue.Queue
	processor *commandqueue.Processor
	history   HistoryReader
	logger    zerolog.Logger

	queueHandle     commandqueue.Handle
	processorHandle commandqueue.Handle

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.Queue == nil {
		cfg.Queue = cfg.Processor.Queue()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		tickInterval:    cfg.TickInterval,
		startTimeout:    cfg.StartTimeout,
		stopTimeout:     cfg.StopTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		requestsPerMin:  cfg.RequestsPerMinute,
		maxConcurrent:   cfg.MaxConcurrent,
		clients:         clients,
		router:          NewRPCRouter(),
		auth:            NewAuthenticator(cfg.SharedSecret),
		broadcaster:     NewEventBroadcaster(clients, logger),
		rpcLimiter:      NewAddressRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		queue:           cfg.Queue,
		processor:       cfg.Processor,
		history:         cfg.History,
		logger:          logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP routes served by the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listener, starts serving and subscribes to queue and
// processor events
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.queueHandle = s.queue.AddObserver(s.broadcaster.QueueObserver())
	s.processorHandle = s.processor.AddObserver(s.broadcaster.ProcessorObserver())

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Addr returns the bound listener address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the Gateway Server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.stopTickEmitter()

	s.queue.RemoveObserver(s.queueHandle)
	s.processor.RemoveObserver(s.processorHandle)

	s.broadcaster.Broadcast(EventShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		_ = client.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) startTickEmitter() {
	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast(EventTick, map[string]interface{}{
					"status":    "alive",
					"processor": s.processor.State(),
					"queued":    s.queue.Len(),
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		Remote:       r.RemoteAddr,
		RateLimiter:  NewClientRateLimiterWithLimits(s.requestsPerMin, s.maxConcurrent),
	}

	challenge, err := NewChallenge()
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to generate auth challenge")
		conn.Close()
		return
	}
	client.Challenge = challenge

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := client.WriteJSON(AuthChallenge{Event: "auth.challenge", Challenge: challenge}); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// handleClient reads messages from a client until the connection closes
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage handles a single message from a client. It returns false
// when the connection must be dropped.
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !s.clients.IsAuthenticated(client.ID) {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return true
	}

	if allowed, reason := client.RateLimiter.Acquire(); !allowed {
		code := RateLimitExceeded
		if reason == reasonConcurrent {
			code = TooManyConcurrent
		}
		s.sendError(client, req.ID, code, reason)
		return true
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer client.RateLimiter.Release()

		ctx := tracing.WithClientID(tracing.NewRequestContext(context.Background(), "", req.ID), client.ID)

		response := s.router.RouteRequest(ctx, req)
		observability.RecordRPCRequest(req.Method, response.Error == nil)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
	return true
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.auth.CheckSecret(r.Header.Get(SecretHeader)) {
		observability.RecordSecurityAudit(r.Context(), "rpc.auth", remoteHost(r), "denied", nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limiter := s.rpcLimiter.For(remoteHost(r))
	if allowed, reason := limiter.Acquire(); !allowed {
		writeRPCResponse(w, http.StatusTooManyRequests, RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: RateLimitExceeded, Message: reason},
		})
		return
	}
	defer limiter.Release()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		rpcErr := &RPCError{Code: ParseError, Message: err.Error()}
		errors.As(err, &rpcErr)
		writeRPCResponse(w, http.StatusBadRequest, RPCResponse{JSONRPC: "2.0", Error: rpcErr})
		return
	}

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get(TraceHeader), req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	s.inFlightReqs.Add(1)
	resp := s.router.RouteRequest(ctx, req)
	s.inFlightReqs.Done()

	observability.RecordRPCRequest(req.Method, resp.Error == nil)
	writeRPCResponse(w, http.StatusOK, *resp)
}

// handleAuthMessage handles authentication messages. It returns false once
// the client has exhausted its attempts.
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	var result AuthResult
	var attempts int
	s.clients.Update(client.ID, func(c *Client) {
		result = s.auth.Answer(c, authResp.Signature)
		attempts = c.AuthAttempts
	})

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return true
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")
	observability.RecordSecurityAudit(context.Background(), "ws.auth", client.Remote, "denied", map[string]interface{}{
		"attempts": attempts,
	})
	return attempts < maxAuthAttempts
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}

	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast broadcasts an event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod unregisters an RPC method handler
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// Methods lists the registered RPC methods
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// Clients describes the connected websocket clients
func (s *Server) Clients() []ClientInfo {
	return s.clients.Snapshot()
}

func writeRPCResponse(w http.ResponseWriter, status int, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/nesco-labs/hubcall/internal/router"
	"github.com/nesco-labs/hubcall/internal/server/middleware"
	"github.com/nesco-labs/hubcall/pkg/config"
	"github.com/nesco-labs/hubcall/pkg/invoke"
	"github.com/nesco-labs/hubcall/pkg/registry"
	"github.com/nesco-labs/hubcall/pkg/transport"
)

type App struct {
	logger     *slog.Logger
	registry   *registry.Registry
	table      *invoke.Table
	dispatcher *invoke.Dispatcher
	correlator *invoke.Correlator
	msgRouter  *router.MessageRouter

	// transports is the server's own view of live links, used as the source
	// of transport truth for stale-entry reconciliation.
	transports   map[uuid.UUID]*transport.Connection
	transportsMu sync.RWMutex

	wg     sync.WaitGroup
	http   *http.Server
	config *config.Config

	ctx context.Context
}

// hubSender bridges the dispatcher's outbound side onto registry links.
type hubSender struct {
	registry *registry.Registry
}

func (s hubSender) SendToConnection(connID uuid.UUID, payload []byte) error {
	conn, ok := s.registry.Get(connID)
	if !ok {
		return invoke.ErrConnectionNotFound
	}
	conn.Link.Send(payload)
	return nil
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	reg := registry.New(logger)
	table := invoke.NewTable(cfg.Invoke.MaxConcurrentRequests, logger)
	dispatcher := invoke.NewDispatcher(reg, hubSender{registry: reg}, table, cfg.Invoke.RequestTimeout, logger)
	correlator := invoke.NewCorrelator(table, logger)
	msgRouter := router.NewMessageRouter(correlator, logger)

	app := &App{
		logger:     logger,
		registry:   reg,
		table:      table,
		dispatcher: dispatcher,
		correlator: correlator,
		msgRouter:  msgRouter,
		transports: make(map[uuid.UUID]*transport.Connection),
		config:     cfg,
		ctx:        rootCtx,
	}

	// Create a cycler function that closes over the registry and logger.
	connCycler := func(userID string) {
		oldest, found := reg.OldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID)
			oldest.Link.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				reg.UserConnectionCount,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/invoke",
		middleware.Chain(http.HandlerFunc(app.invokeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Dispatcher exposes the invocation API to embedding code.
func (a *App) Dispatcher() *invoke.Dispatcher {
	return a.dispatcher
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()
	if a.config.Registry.PurgeInterval > 0 {
		go a.purgeLoop(a.config.Registry.PurgeInterval)
	}

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.msgRouter.HandleMessage,
		nil,
		a.logger,
	)

	a.transportsMu.Lock()
	a.transports[conn.ID()] = conn
	a.transportsMu.Unlock()

	a.registry.Add(conn.ID(), reqMeta.UserID, reqMeta.DisplayName, conn)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.registry.Remove(id)
		a.transportsMu.Lock()
		delete(a.transports, id)
		a.transportsMu.Unlock()
	})

	connLogger.Info("User connection fully established", slog.Any("userID", reqMeta.UserID))
	conn.Run()
	<-conn.Done()
}

type invokeRequest struct {
	Target    string          `json:"target"` // "all", "user:<id>" or "conn:<uuid>"
	Method    string          `json:"method"`
	Parameter json.RawMessage `json:"parameter,omitempty"`
}

type invokeReply struct {
	ResponseType string          `json:"responseType"`
	JSONData     json.RawMessage `json:"jsonData,omitempty"`
	FilePath     string          `json:"filePath,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type invokeResponse struct {
	RequestID           string                 `json:"requestId"`
	Status              string                 `json:"status"`
	SuccessCount        int                    `json:"successCount"`
	FailureCount        int                    `json:"failureCount"`
	AllTargetsResponded bool                   `json:"allTargetsResponded"`
	Replies             map[string]invokeReply `json:"replies"`
}

// invokeHandler is the ops surface: it triggers an invocation and blocks
// until the aggregate resolves, then renders it.
func (a *App) invokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		http.Error(w, "missing method", http.StatusBadRequest)
		return
	}

	var param any
	if len(req.Parameter) > 0 {
		param = req.Parameter
	}

	call, err := a.resolveAndInvoke(req.Target, req.Method, param)
	if err != nil {
		switch {
		case errors.Is(err, invoke.ErrUserNotConnected), errors.Is(err, invoke.ErrConnectionNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, invoke.ErrOverloaded):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	result, err := call.Await(r.Context())
	if err != nil {
		// The HTTP caller went away; the pending entry resolves on its own.
		a.logger.Warn("Invoke request abandoned by caller", slog.Any("error", err))
		return
	}

	resp := invokeResponse{
		RequestID:           call.RequestID().String(),
		Status:              result.Status.String(),
		SuccessCount:        result.SuccessCount,
		FailureCount:        result.FailureCount,
		AllTargetsResponded: result.AllTargetsResponded,
		Replies:             make(map[string]invokeReply, len(result.Replies)),
	}
	for connID, reply := range result.Replies {
		env := reply.EnvelopeFor(resp.RequestID)
		resp.Replies[connID.String()] = invokeReply{
			ResponseType: env.ResponseType,
			JSONData:     env.JSONData,
			FilePath:     env.FilePath,
			ErrorMessage: env.ErrorMessage,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("Failed to encode invoke response", slog.Any("error", err))
	}
}

func (a *App) resolveAndInvoke(target, method string, parameter any) (*invoke.Call, error) {
	switch {
	case target == "all":
		return a.dispatcher.InvokeOnAll(method, parameter)
	case strings.HasPrefix(target, "user:"):
		return a.dispatcher.InvokeOnUser(strings.TrimPrefix(target, "user:"), method, parameter)
	case strings.HasPrefix(target, "conn:"):
		connID, err := uuid.Parse(strings.TrimPrefix(target, "conn:"))
		if err != nil {
			return nil, errors.New("invalid connection id in target")
		}
		return a.dispatcher.InvokeOnConnection(connID, method, parameter)
	default:
		return nil, errors.New("target must be 'all', 'user:<id>' or 'conn:<uuid>'")
	}
}

// purgeLoop periodically reconciles registry entries against transport truth.
func (a *App) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			purged := a.registry.PurgeStale(a.isTransportLive)
			if purged > 0 {
				a.logger.Info("Purged stale registry entries", slog.Int("count", purged))
			}
		}
	}
}

func (a *App) isTransportLive(connID uuid.UUID) bool {
	a.transportsMu.RLock()
	conn, ok := a.transports[connID]
	a.transportsMu.RUnlock()
	return ok && conn.Alive()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.All() {
		conn.Link.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

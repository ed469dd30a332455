package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nesco-labs/hubcall/pkg/invoke"
	"github.com/tidwall/gjson"
)

const defaultHandlerTimeout = 30 * time.Second

type Options struct {
	// URL is the hub's websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// SessionToken is the JWT presented as the session-token cookie.
	SessionToken string
	// Offload decides when a reply payload is written out of band instead of
	// riding the transport. Store receives the offloaded payloads; required
	// once Offload has a positive threshold.
	Offload invoke.OffloadPolicy
	Store   invoke.PayloadStore
	// HandlerTimeout bounds a single method execution. Zero means the default.
	HandlerTimeout time.Duration

	Logger *slog.Logger
}

// Client is the remote peer: it keeps one connection to the hub, executes
// invocations against its handler table, and answers each with exactly one
// reply frame echoing the invocation's wire request ID.
type Client struct {
	opts     Options
	handlers *HandlerRegistry

	conn   *websocket.Conn
	sendMu sync.Mutex

	logger *slog.Logger
}

func New(opts Options, handlers *HandlerRegistry) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	return &Client{
		opts:     opts,
		handlers: handlers,
		logger:   opts.Logger.With(slog.String("component", "client")),
	}
}

// Connect dials the hub. It does not start reading; call Run after.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.opts.SessionToken != "" {
		header.Set("Cookie", "session-token="+c.opts.SessionToken)
	}
	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	// The default read limit is far below a typical inline reply budget.
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.logger.Info("Connected to hub", slog.String("url", c.opts.URL), slog.Any("methods", c.handlers.Methods()))
	return nil
}

// Run reads frames until ctx ends or the connection drops. Each invocation
// is executed on its own goroutine so one slow handler cannot starve the
// read loop.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("client is not connected")
	}
	for {
		_, msg, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read from hub: %w", err)
		}
		if !gjson.ValidBytes(msg) {
			c.logger.Warn("Discarding frame that is not valid JSON")
			continue
		}
		if gjson.GetBytes(msg, "type").String() != invoke.FrameInvoke {
			c.logger.Warn("Received unknown frame type", slog.String("type", gjson.GetBytes(msg, "type").String()))
			continue
		}
		go c.handleInvocation(ctx, msg)
	}
}

func (c *Client) handleInvocation(ctx context.Context, raw []byte) {
	requestID := gjson.GetBytes(raw, "requestId").String()
	method := gjson.GetBytes(raw, "method").String()
	if requestID == "" || method == "" {
		c.logger.Warn("Discarding invocation without requestId or method")
		return
	}

	reply := c.execute(ctx, requestID, method, raw)
	if err := c.sendReply(ctx, requestID, reply); err != nil {
		c.logger.Error("Failed to send reply",
			slog.String("requestID", requestID),
			slog.Any("error", err),
		)
	}
}

func (c *Client) execute(ctx context.Context, requestID, method string, raw []byte) invoke.Reply {
	handler, ok := c.handlers.Get(method)
	if !ok {
		c.logger.Warn("Invocation for unregistered method", slog.String("method", method))
		return invoke.ErrorReply("unknown method: " + method)
	}

	var parameter json.RawMessage
	if param := gjson.GetBytes(raw, "parameter"); param.Exists() {
		parameter = json.RawMessage(param.Raw)
	}

	hctx, cancel := context.WithTimeout(ctx, c.opts.HandlerTimeout)
	defer cancel()

	payload, err := handler(hctx, parameter)
	if err != nil {
		// Error replies are always inline; the offload policy never sees them.
		return invoke.ErrorReply(err.Error())
	}

	reply, err := c.opts.Offload.Apply(requestID, payload, c.opts.Store)
	if err != nil {
		c.logger.Error("Failed to offload reply payload",
			slog.String("requestID", requestID),
			slog.Any("error", err),
		)
		return invoke.ErrorReply("failed to persist offloaded payload")
	}
	return reply
}

func (c *Client) sendReply(ctx context.Context, requestID string, reply invoke.Reply) error {
	frame, err := json.Marshal(reply.EnvelopeFor(requestID))
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Close tears the connection down.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "client shutting down")
}

// Package connector owns dialing the PocketOption WebSocket endpoint:
// candidate endpoint probing, TLS handshake, and classifying a failure as
// retryable (transport hiccup, worth a backoff+retry) versus terminal
// (handshake rejected, not worth retrying with the same credential).
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// Config configures the connector.
type Config struct {
	// Endpoints lists candidate WebSocket URLs to try in order; the first
	// that completes a handshake wins (§4.1 endpoint discovery).
	Endpoints        []string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// DefaultHandshakeTimeout bounds a single dial attempt.
const DefaultHandshakeTimeout = 15 * time.Second

// Connector dials candidate endpoints until one succeeds.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Connector.
func New(cfg Config, logger *slog.Logger) *Connector {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Connector{cfg: cfg, logger: logger.With(slog.String("component", "connector"))}
}

// Dial tries each configured endpoint in order and returns the first
// successful connection. A per-endpoint dial error is logged and the next
// endpoint is tried; if every endpoint fails, the last error is returned,
// classified by Classify.
func (c *Connector) Dial(ctx context.Context) (*websocket.Conn, string, error) {
	if len(c.cfg.Endpoints) == 0 {
		return nil, "", domain.NewError("connector.dial", domain.KindInternal, "no endpoints configured")
	}

	var lastErr error
	for _, endpoint := range c.cfg.Endpoints {
		conn, err := c.dialOne(ctx, endpoint)
		if err == nil {
			c.logger.Info("connected", slog.String("endpoint", endpoint))
			return conn, endpoint, nil
		}
		c.logger.Warn("endpoint dial failed, trying next",
			slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		lastErr = err
	}
	return nil, "", Classify(lastErr)
}

func (c *Connector) dialOne(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, domain.Wrap(fmt.Sprintf("connector.dial(%s)", endpoint), domain.KindHandshake,
				fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
		}
		return nil, domain.Wrap(fmt.Sprintf("connector.dial(%s)", endpoint), domain.KindTransport, err)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// Classify normalizes an error returned by Dial to an *domain.EngineError.
// dialOne already classifies per-endpoint errors as Handshake or Transport;
// Classify exists so a caller holding a bare error (e.g. from a deeper
// websocket read) can still get a Kind, defaulting unrecognized errors to
// Transport (retryable) and unexpected-close errors to ConnectionLost.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return ee
	}
	if websocket.IsUnexpectedCloseError(err) {
		return domain.Wrap("connector.dial", domain.KindConnectionLost, err)
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return domain.Wrap("connector.dial", domain.KindHandshake, err)
	}
	return domain.Wrap("connector.dial", domain.KindTransport, err)
}

// Package marketfeed provides a websocket client for the market data quote
// feed. The client keeps the latest quote per instrument in memory and
// serves them to the snapshot capture stage as a marketdata.Source.
package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/marketdata"
	"cds-eod-engine/internal/observability"
)

// Quote kinds on the wire.
const (
	kindCdsSpread = "CDS_SPREAD"
	kindIrRate    = "IR_RATE"
	kindFxRate    = "FX_RATE"
	kindRecovery  = "RECOVERY_RATE"
)

// Config configures feed client behavior.
type Config struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential reconnect backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the default feed client configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

type spreadKey struct {
	entity, tenor, currency, seniority string
}

type curveKey struct {
	currency, curveType, tenor string
}

type fxKey struct {
	base, quote string
}

type recoveryKey struct {
	entity, seniority string
}

// Client subscribes to the quote feed and caches the latest quote per
// instrument. It implements marketdata.Source for snapshot capture.
type Client struct {
	endpoint   string
	cfg        Config
	entities   []string
	currencies []string

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	reconnecting atomic.Bool

	mu         sync.RWMutex
	spreads    map[spreadKey]domain.CdsSpreadQuote
	curve      map[curveKey]domain.IrCurvePoint
	fx         map[fxKey]domain.FxRateQuote
	recoveries map[recoveryKey]domain.RecoveryRateQuote

	done chan struct{}
	wg   sync.WaitGroup

	metrics *observability.Metrics
	log     zerolog.Logger
}

var _ marketdata.Source = (*Client)(nil)

// NewClient connects to the feed endpoint, subscribes for the given entities
// and currencies, and starts the read and ping loops.
func NewClient(ctx context.Context, endpoint string, entities, currencies []string,
	config *Config, metrics *observability.Metrics, log zerolog.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	c := &Client{
		endpoint:   endpoint,
		cfg:        cfg,
		entities:   entities,
		currencies: currencies,
		spreads:    make(map[spreadKey]domain.CdsSpreadQuote),
		curve:      make(map[curveKey]domain.IrCurvePoint),
		fx:         make(map[fxKey]domain.FxRateQuote),
		recoveries: make(map[recoveryKey]domain.RecoveryRateQuote),
		done:       make(chan struct{}),
		metrics:    metrics,
		log:        log.With().Str("component", "marketfeed").Logger(),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the websocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// subscribe sends the subscription request for the configured universe.
func (c *Client) subscribe() error {
	req := feedRequest{
		Type:       "subscribe",
		Entities:   c.entities,
		Currencies: c.currencies,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the websocket connection and stops the loops.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads feed messages and dispatches them into the quote cache,
// reconnecting with exponential backoff on connection errors.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.cfg.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.cfg.MaxReconnectDelay {
				reconnectDelay = c.cfg.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.cfg.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect re-dials and re-subscribes after a connection failure.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("feed reconnect failed, will retry on next read error")
		return
	}

	if err := c.subscribe(); err != nil {
		c.log.Warn().Err(err).Msg("feed resubscribe failed")
		return
	}

	c.metrics.RecordFeedReconnect()
	c.log.Info().Str("endpoint", c.endpoint).Msg("feed reconnected")
}

// handleMessage parses one feed message and updates the quote cache.
func (c *Client) handleMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Warn().Err(err).Msg("unparseable feed message")
		return
	}

	switch msg.Type {
	case "quote":
		if msg.Quote == nil {
			return
		}
		c.applyQuote(msg.Quote)
		c.metrics.RecordFeedMessage()
	case "subscribed":
		c.log.Debug().Msg("feed subscription confirmed")
	case "error":
		c.log.Warn().Str("message", msg.Message).Msg("feed error message")
	}
}

// applyQuote stores the quote, replacing any earlier quote for the same
// instrument. Last write wins; the capture stage snapshots whatever is
// current at EOD.
func (c *Client) applyQuote(q *quotePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch q.Kind {
	case kindCdsSpread:
		c.spreads[spreadKey{q.Entity, q.Tenor, q.Currency, q.Seniority}] = domain.CdsSpreadQuote{
			ReferenceEntity: q.Entity,
			Tenor:           q.Tenor,
			Currency:        q.Currency,
			Seniority:       q.Seniority,
			SpreadBps:       q.Value,
			DataSource:      q.Source,
			QuoteTime:       q.Time,
		}
	case kindIrRate:
		c.curve[curveKey{q.Currency, q.CurveType, q.Tenor}] = domain.IrCurvePoint{
			Currency:   q.Currency,
			CurveType:  q.CurveType,
			Tenor:      q.Tenor,
			Rate:       q.Value,
			DataSource: q.Source,
			QuoteTime:  q.Time,
		}
	case kindFxRate:
		c.fx[fxKey{q.Currency, q.QuoteCurrency}] = domain.FxRateQuote{
			BaseCurrency:  q.Currency,
			QuoteCurrency: q.QuoteCurrency,
			Rate:          q.Value,
			DataSource:    q.Source,
			QuoteTime:     q.Time,
		}
	case kindRecovery:
		c.recoveries[recoveryKey{q.Entity, q.Seniority}] = domain.RecoveryRateQuote{
			ReferenceEntity: q.Entity,
			Seniority:       q.Seniority,
			Recovery:        q.Value,
			DataSource:      q.Source,
			QuoteTime:       q.Time,
		}
	default:
		c.log.Debug().Str("kind", q.Kind).Msg("unknown quote kind")
	}
}

// CdsSpreads returns the current cached CDS spread quotes.
func (c *Client) CdsSpreads(_ context.Context, _ time.Time) ([]domain.CdsSpreadQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.CdsSpreadQuote, 0, len(c.spreads))
	for _, q := range c.spreads {
		out = append(out, q)
	}
	return out, nil
}

// IrCurve returns the current cached interest rate curve points.
func (c *Client) IrCurve(_ context.Context, _ time.Time) ([]domain.IrCurvePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.IrCurvePoint, 0, len(c.curve))
	for _, p := range c.curve {
		out = append(out, p)
	}
	return out, nil
}

// FxRates returns the current cached FX quotes.
func (c *Client) FxRates(_ context.Context, _ time.Time) ([]domain.FxRateQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.FxRateQuote, 0, len(c.fx))
	for _, q := range c.fx {
		out = append(out, q)
	}
	return out, nil
}

// RecoveryRates returns the current cached recovery rate quotes.
func (c *Client) RecoveryRates(_ context.Context, _ time.Time) ([]domain.RecoveryRateQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.RecoveryRateQuote, 0, len(c.recoveries))
	for _, q := range c.recoveries {
		out = append(out, q)
	}
	return out, nil
}

// QuoteCount returns the total number of cached quotes across all kinds.
func (c *Client) QuoteCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.spreads) + len(c.curve) + len(c.fx) + len(c.recoveries)
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader handles reconnect.
					c.log.Debug().Err(err).Msg("ping write failed")
				}
			}
			c.connMu.Unlock()
		}
	}
}

// Feed wire types.

type feedRequest struct {
	Type       string   `json:"type"`
	Entities   []string `json:"entities,omitempty"`
	Currencies []string `json:"currencies,omitempty"`
}

type feedMessage struct {
	Type    string        `json:"type"`
	Message string        `json:"message,omitempty"`
	Quote   *quotePayload `json:"quote,omitempty"`
}

type quotePayload struct {
	Kind          string          `json:"kind"`
	Entity        string          `json:"entity,omitempty"`
	Tenor         string          `json:"tenor,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	QuoteCurrency string          `json:"quote_currency,omitempty"`
	Seniority     string          `json:"seniority,omitempty"`
	CurveType     string          `json:"curve_type,omitempty"`
	Value         decimal.Decimal `json:"value"`
	Source        string          `json:"source"`
	Time          time.Time       `json:"time"`
}

// Package feed provides a WebSocket ingest client that connects to a bar
// feed server, authenticates with a TOTP-based login message, subscribes to
// the configured symbols and pushes model.Bar values into barCh.
//
// The expected JSON message format on the wire is identical to model.Bar:
//
//	{"symbol":"SBIN","ts":"...","open":511.2,"high":512.4,"low":510.1,"close":512.0,"volume":1200}
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"swing-systemv1/internal/model"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
)

// Config holds configuration for the WS bar feed.
type Config struct {
	// URL of the bar WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ClientCode identifies this client to the feed server.
	ClientCode string

	// TOTPSecret is the base32 shared secret for the login handshake.
	// Empty disables authentication (e.g. local simulators).
	TOTPSecret string

	// Symbols to subscribe after login.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// authMessage is the login handshake sent right after connecting.
type authMessage struct {
	Action     string `json:"action"`
	ClientCode string `json:"client_code"`
	TOTP       string `json:"totp,omitempty"`
}

// subscribeMessage requests bar delivery for a set of symbols.
type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Ingest connects to a JSON WebSocket bar server and pushes model.Bar
// values into barCh.
type Ingest struct {
	cfg Config

	// Optional hook — called each time a reconnection happens.
	OnReconnect func()

	// Optional hook — called per parsed bar (health/metrics).
	OnBar func(bar model.Bar)
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects to the WebSocket and streams bars into barCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect,
// generating a fresh TOTP code per attempt.
func (ing *Ingest) Start(ctx context.Context, barCh chan<- model.Bar) error {
	delay := ing.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, barCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt, performs the login handshake
// and reads until disconnect or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, barCh chan<- model.Bar) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", ing.cfg.URL)

	if err := ing.login(conn); err != nil {
		return err
	}

	if len(ing.cfg.Symbols) > 0 {
		sub := subscribeMessage{Action: "subscribe", Symbols: ing.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		log.Printf("[feed] subscribed to %d symbols", len(ing.cfg.Symbols))
	}

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a context cancellation
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var bar model.Bar
		if err := json.Unmarshal(raw, &bar); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}

		if bar.Symbol == "" {
			log.Printf("[feed] skipping bar with empty symbol")
			continue
		}

		if ing.OnBar != nil {
			ing.OnBar(bar)
		}

		select {
		case barCh <- bar:
		default:
			log.Println("[feed] barCh full, dropping bar")
		}
	}
}

// login sends the auth handshake with a freshly generated TOTP code.
func (ing *Ingest) login(conn *websocket.Conn) error {
	msg := authMessage{Action: "login", ClientCode: ing.cfg.ClientCode}

	if ing.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(ing.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("totp generation: %w", err)
		}
		msg.TOTP = code
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

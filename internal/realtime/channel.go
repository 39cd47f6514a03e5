// Package realtime is the client of the push service streaming chat-AI
// answers to the composition.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/observe"
)

// AnswerHandler receives every valid answer event, in delivery order.
type AnswerHandler func(model.ChatAnswer)

// Options locates the push service and tunes the connection.
type Options struct {
	BaseURL string
	// Path is appended to BaseURL, config.DefaultWebsocketPath when empty.
	Path string
	// Jar and Token carry the REST session into the handshake.
	Jar   http.CookieJar
	Token string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

func (o *Options) withDefaults() {
	if o.Path == "" {
		o.Path = config.DefaultWebsocketPath
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 20 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
}

// URL returns the websocket endpoint.
func (o Options) URL() string {
	base := strings.TrimRight(o.BaseURL, "/")
	path := o.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Channel keeps one websocket connection to the push service open until
// Release. Connection failures never surface as errors: they flip
// Connected to false, get logged, and the channel retries with backoff.
type Channel struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	handler   AnswerHandler
	cancel    context.CancelFunc
	done      chan struct{}

	opts     Options
	dialer   *websocket.Dialer
	validate *govalidator.Validate
	log      zerolog.Logger
	notifier *observe.Notifier
}

// New creates an idle Channel. Call Init to connect.
func New(opts Options, log zerolog.Logger, notifier *observe.Notifier) *Channel {
	opts.withDefaults()
	return &Channel{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Jar:              opts.Jar,
		},
		validate: govalidator.New(govalidator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "realtime").Logger(),
		notifier: notifier,
	}
}

// OnAnswer registers the single answer handler, replacing any previous one.
func (c *Channel) OnAnswer(h AnswerHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connected reports whether the connection is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Init starts connecting in the background. It returns at once.
func (c *Channel) Init(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		c.log.Warn().Msg("Realtime channel already initialized")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
}

// Release closes the connection and stops reconnecting. It waits for the
// background goroutine and must not be called from the answer handler.
func (c *Channel) Release() {
	c.mu.Lock()
	if !c.connected {
		c.log.Warn().Msg("Realtime channel not connected")
	}
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	if cancel != nil {
		// attach checks the context under mu, so no connection can be
		// recorded after this point.
		cancel()
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		closeGracefully(conn)
	}
	<-done
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := c.opts.MinBackoff
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Dur("retry_in", backoff).Msg("connect_error")
			c.notifier.Publish(observe.Change{Topic: observe.TopicChannel, Field: "connect_error"})

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.MinBackoff

		if !c.attach(ctx, conn) {
			closeGracefully(conn)
			return
		}
		c.log.Info().Str("url", c.opts.URL()).Msg("connect")

		c.serve(ctx, conn)

		c.detach()
		c.log.Info().Msg("disconnect")
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// attach records conn as the live connection unless Release already ran.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	changed := observe.Set(&c.connected, true)
	c.mu.Unlock()

	if changed {
		c.notifier.Publish(observe.Change{Topic: observe.TopicChannel, Field: "connected"})
	}
	return true
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	changed := observe.Set(&c.connected, false)
	c.mu.Unlock()

	if changed {
		c.notifier.Publish(observe.Change{Topic: observe.TopicChannel, Field: "connected"})
	}
}

// serve reads frames until the connection drops.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.keepAlive(conn, stopPing)

	for {
		var env Envelope
		if err := ReadJSON(conn, &env); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.Warn().Err(err).Msg("Dropping malformed frame")
				continue
			}
			switch {
			case ctx.Err() != nil:
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.log.Warn().Err(err).Msg("Unexpected close")
			default:
				c.log.Debug().Err(err).Msg("Connection closed")
			}
			_ = conn.Close()
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	switch env.Event {
	case EventAnswer:
		var msg model.ChatAnswer
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed answer event")
			return
		}
		if err := c.validate.Struct(msg); err != nil {
			c.log.Warn().Err(err).Msg("Dropping invalid answer event")
			return
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			c.log.Warn().Msg("No answer handler registered")
			return
		}
		h(msg)

	case EventInfo:
		var info InfoData
		_ = json.Unmarshal(env.Data, &info)
		c.log.Info().Str("message", info.Message).Msg("Push service info")

	case EventPong:
		// keepalive answer

	default:
		c.log.Debug().Str("event", string(env.Event)).Msg("Unknown event")
	}
}

// keepAlive is the only writer of data frames on conn.
func (c *Channel) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := WriteTyped(conn, PingRequest{Action: ActionPing}); err != nil {
				c.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

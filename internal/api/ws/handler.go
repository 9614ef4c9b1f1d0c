// Package ws is the WebSocket transport for streaming sessions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-speech-stream-service/internal/models"
	"ai-speech-stream-service/internal/observability/logging"
	"ai-speech-stream-service/internal/service/engine"
	"ai-speech-stream-service/internal/service/session"
)

// DefaultEngine is used when the client does not pass ?engine=.
const DefaultEngine = "word_incremental"

// Sessions creates sessions for new connections.
type Sessions interface {
	Create(ctx context.Context, kind models.EngineKind, opts session.Options) (*session.Session, error)
}

// Resolver maps the engine query option to an engine kind.
type Resolver interface {
	Resolve(name string) (models.EngineKind, error)
}

// Config tunes connection handling.
type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongWait:     70 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxFrameSize: 1 << 20,
	}
}

// Handler upgrades /v1/stream requests and bridges them to a session.
type Handler struct {
	sessions Sessions
	resolver Resolver
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates the streaming handler.
func NewHandler(sessions Sessions, resolver Resolver, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval + cfg.PingInterval/2 + time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	return &Handler{
		sessions: sessions,
		resolver: resolver,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("engine")
	if name == "" {
		name = DefaultEngine
	}

	// The engine is validated before the upgrade so that configuration errors
	// surface as plain HTTP responses.
	kind, err := h.resolver.Resolve(name)
	if err != nil {
		h.reject(w, http.StatusBadRequest, err)
		return
	}
	s, err := h.sessions.Create(r.Context(), kind, session.Options{})
	if err != nil {
		h.reject(w, statusFor(err), err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("sessionId", s.ID()).Msg("WebSocket upgrade failed")
		s.Terminate(session.ReasonClientDisconnect)
		return
	}

	c := &connection{
		conn:    conn,
		session: s,
		cfg:     h.cfg,
		notices: make(chan Message, 16),
		log:     logging.WithSession(s.ID(), kind.String()),
	}
	c.serve()
}

func (h *Handler) reject(w http.ResponseWriter, status int, err error) {
	h.log.Info().Err(err).Int("status", status).Msg("Stream rejected")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorMessage(err.Error()))
}

func statusFor(err error) int {
	switch {
	case engine.IsConfigurationError(err):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// connection owns one upgraded socket. The read loop is the caller of serve;
// all writes happen on the write loop.
type connection struct {
	conn    *websocket.Conn
	session *session.Session
	cfg     Config
	notices chan Message
	log     zerolog.Logger
}

func (c *connection) serve() {
	c.log.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("Stream connected")

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writeLoop()
	}()

	c.readLoop()
	<-written
	c.log.Info().Str("reason", c.session.Reason()).Msg("Stream disconnected")
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(c.cfg.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("Stream read failed")
			}
			c.session.Terminate(session.ReasonClientDisconnect)
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			c.enqueue(data)
		case websocket.TextMessage:
			var ctrl control
			if err := json.Unmarshal(data, &ctrl); err != nil {
				c.notify(errorMessage("invalid control message"))
				continue
			}
			if ctrl.Type == "stop" {
				c.log.Debug().Msg("Client requested stop")
				c.session.Stop()
			}
		}
	}
}

func (c *connection) enqueue(pcm []byte) {
	err := c.session.Enqueue(pcm)
	switch {
	case err == nil, errors.Is(err, session.ErrSessionClosed):
	case errors.Is(err, session.ErrBackpressure):
		c.notify(backpressureMessage(len(pcm)))
	default:
		c.notify(errorMessage(err.Error()))
	}
}

// notify queues a notice for the writer, dropping it when the writer lags.
func (c *connection) notify(m Message) {
	select {
	case c.notices <- m:
	default:
		c.log.Debug().Str("type", m.Type).Msg("Notice dropped")
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	s := c.session
	hello := Message{Type: TypeSession, SessionID: s.ID(), Engine: s.Engine().String()}
	if err := c.write(hello); err != nil {
		s.Terminate(session.ReasonClientDisconnect)
		return
	}

	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				<-s.Done()
				m := s.Metrics()
				_ = c.write(Message{Type: TypeMetrics, SessionID: s.ID(), Metrics: &m})
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, m.Reason), deadline)
				return
			}
			if err := c.write(Encode(u)); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				s.Terminate(session.ReasonClientDisconnect)
				return
			}
		case n := <-c.notices:
			if err := c.write(n); err != nil {
				s.Terminate(session.ReasonClientDisconnect)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.Terminate(session.ReasonClientDisconnect)
				return
			}
		}
	}
}

func (c *connection) write(m Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(m)
}

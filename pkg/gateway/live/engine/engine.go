// Package engine holds the outbound duplex connection to the upstream
// streaming conversational engine. One Connect call establishes exactly one
// websocket; retry policy belongs to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectError reports a failed handshake with the upstream engine. It is
// never retried inside this package.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("engine connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// SessionUpdate carries the initial configuration frame. It must not be sent
// before the durable conversation id exists.
type SessionUpdate struct {
	Instructions      string   `json:"instructions,omitempty"`
	Modalities        []string `json:"modalities,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	TurnDetection     any      `json:"turn_detection,omitempty"`
}

type Conn struct {
	conn *websocket.Conn
	cfg  Config

	writeMu sync.Mutex
	errMu   sync.Mutex

	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once

	lastClose string
}

// Connect dials the upstream engine. The handshake is bounded by
// cfg.ConnectTimeout and a failure is reported as a *ConnectError.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConnectError{URL: cfg.BaseURL, Err: errors.New("api key is required")}
	}
	wsURL, err := buildEngineURL(cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, &ConnectError{URL: cfg.BaseURL, Err: err}
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		return nil, &ConnectError{URL: wsURL, Err: err}
	}

	c := &Conn{
		conn:   conn,
		cfg:    cfg,
		frames: make(chan Frame, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	go c.keepAliveLoop()
	return c, nil
}

// Frames returns the inbound event stream. The channel is closed when the
// connection terminates from either side.
func (c *Conn) Frames() <-chan Frame {
	if c == nil {
		ch := make(chan Frame)
		close(ch)
		return ch
	}
	return c.frames
}

func (c *Conn) SendSessionUpdate(ctx context.Context, update SessionUpdate) error {
	return c.writeJSON(ctx, map[string]any{
		"type":    "session.update",
		"session": update,
	})
}

func (c *Conn) SendResponseCreate(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "response.create"})
}

func (c *Conn) SendAudio(ctx context.Context, dataB64 string) error {
	if strings.TrimSpace(dataB64) == "" {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": dataB64,
	})
}

// SendText submits a typed user message and asks for a response.
func (c *Conn) SendText(ctx context.Context, text string) error {
	err := c.writeJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
	if err != nil {
		return err
	}
	return c.SendResponseCreate(ctx)
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		c.setLastClose("closed")
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.setLastClose(fmt.Sprintf("code=%d msg=%s", closeErr.Code, strings.TrimSpace(closeErr.Text)))
			} else {
				c.setLastClose(strings.TrimSpace(err.Error()))
			}
			return
		}
		frame := DecodeFrame(data)
		select {
		case c.frames <- frame:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
		}
	}
}

func (c *Conn) writeJSON(ctx context.Context, payload any) error {
	if c == nil || c.conn == nil {
		return errors.New("engine connection is nil")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	writeTimeout := c.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		reason := c.closeReason()
		if reason == "" {
			return err
		}
		return fmt.Errorf("%w (engine %s)", err, reason)
	}
	return nil
}

func (c *Conn) setLastClose(msg string) {
	if c == nil {
		return
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return
	}
	if len(msg) > 300 {
		msg = msg[:300] + "…"
	}
	c.errMu.Lock()
	c.lastClose = msg
	c.errMu.Unlock()
}

func (c *Conn) closeReason() string {
	if c == nil {
		return ""
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastClose
}

func buildEngineURL(base, model string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("engine base url is required")
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid engine base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if strings.TrimSpace(model) != "" {
		q := u.Query()
		if q.Get("model") == "" {
			q.Set("model", strings.TrimSpace(model))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

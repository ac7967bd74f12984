package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/groutine"
	"github.com/srg/rcdrive/internal/protocol"
)

// WiFi defaults.
const (
	DefaultWiFiPort         = 80
	DefaultCommandTimeout   = 5 * time.Second
	DefaultSensorTimeout    = 2 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
)

// Vehicle HTTP endpoints.
const (
	PathWebSocket = "/ws"
	PathCommand   = "/command"
	PathSensor    = "/sensor"
	PathStatus    = "/status"
)

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Command string `json:"command"`
}

// WiFiOptions configures a WiFiTransport.
type WiFiOptions struct {
	Host string
	Port int

	// CommandTimeout bounds POST /command and the GET /status health check.
	CommandTimeout time.Duration
	// SensorTimeout bounds each GET /sensor poll.
	SensorTimeout    time.Duration
	HandshakeTimeout time.Duration
	PollInterval     time.Duration

	HTTPClient *http.Client
	// OnDowngrade is called once when the link falls back to HTTP mid-session.
	OnDowngrade func(cause error)
}

// WiFiTransport talks to the vehicle over WebSocket, or over plain HTTP when
// the socket cannot be opened or fails mid-session. The fallback is one-way.
type WiFiTransport struct {
	opts    WiFiOptions
	session *Session
	logger  *logrus.Logger
	client  *http.Client

	data dataHandler
	lost *lossNotifier

	mu        sync.Mutex
	ws        *websocket.Conn
	link      string
	connected bool
	closing   bool
	source    Source
	linkCtx   context.Context
	cancel    context.CancelFunc

	writeMutex sync.Mutex
}

// NewWiFiTransport creates an unconnected WiFi transport bound to session.
func NewWiFiTransport(opts WiFiOptions, session *Session, logger *logrus.Logger) *WiFiTransport {
	if logger == nil {
		logger = logrus.New()
	}
	if session == nil {
		session = NewSession()
	}
	if opts.Port <= 0 {
		opts.Port = DefaultWiFiPort
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.SensorTimeout <= 0 {
		opts.SensorTimeout = DefaultSensorTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &WiFiTransport{
		opts:    opts,
		session: session,
		logger:  logger,
		client:  client,
		lost:    newLossNotifier(),
	}
}

func (t *WiFiTransport) Kind() Kind { return KindWiFi }

func (t *WiFiTransport) OnData(fn func([]byte)) { t.data.set(fn) }

func (t *WiFiTransport) Disconnected() <-chan error { return t.lost.ch }

// Endpoint returns host:port.
func (t *WiFiTransport) Endpoint() string {
	return net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
}

// Link reports the current link mode.
func (t *WiFiTransport) Link() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link
}

func (t *WiFiTransport) httpURL(path string) string {
	return (&url.URL{Scheme: "http", Host: t.Endpoint(), Path: path}).String()
}

// Connect opens the WebSocket, or falls back to the HTTP API after a
// successful GET /status.
func (t *WiFiTransport) Connect(ctx context.Context) error {
	if t.opts.Host == "" {
		return device.ErrMissingHost
	}

	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	t.mu.Unlock()

	wsURL := (&url.URL{Scheme: "ws", Host: t.Endpoint(), Path: PathWebSocket}).String()
	t.logger.WithField("url", wsURL).Info("Connecting to vehicle WebSocket...")

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	linkCtx, cancel := context.WithCancel(context.Background())

	if err == nil {
		t.mu.Lock()
		t.ws = conn
		t.link = LinkWebSocket
		t.connected = true
		t.closing = false
		t.linkCtx, t.cancel = linkCtx, cancel
		t.mu.Unlock()

		t.session.Bind(Info{Kind: KindWiFi, ID: t.Endpoint(), Name: t.Endpoint(), Link: LinkWebSocket, Reception: ReceptionNotify})
		groutine.Go(linkCtx, "wifi-ws-reader", func(context.Context) { t.readLoop(conn) })
		t.logger.WithField("endpoint", t.Endpoint()).Info("Connected via WebSocket")
		return nil
	}

	if ctx.Err() != nil {
		cancel()
		return ctx.Err()
	}
	t.logger.WithFields(logrus.Fields{
		"endpoint": t.Endpoint(),
		"error":    err,
	}).Warn("WebSocket failed, trying HTTP...")

	if err := t.checkStatus(ctx); err != nil {
		cancel()
		return err
	}

	t.mu.Lock()
	t.link = LinkHTTP
	t.connected = true
	t.closing = false
	t.linkCtx, t.cancel = linkCtx, cancel
	t.mu.Unlock()

	t.session.Bind(Info{Kind: KindWiFi, ID: t.Endpoint(), Name: t.Endpoint(), Link: LinkHTTP, Reception: ReceptionPoll})
	t.startPolling(linkCtx)
	t.logger.WithField("endpoint", t.Endpoint()).Info("Connected via HTTP")
	return nil
}

func (t *WiFiTransport) checkStatus(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, t.opts.CommandTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.httpURL(PathStatus), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: device not responding (HTTP %d)", device.ErrNetwork, resp.StatusCode)
	}
	return nil
}

func (t *WiFiTransport) startPolling(ctx context.Context) {
	source := NewPollSource("wifi-sensor-poll", t.opts.PollInterval, t.readSensor, t.logger)
	t.mu.Lock()
	t.source = source
	t.mu.Unlock()
	_ = source.Start(ctx, t.data.deliver)
}

func (t *WiFiTransport) readSensor(ctx context.Context) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.opts.SensorTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.httpURL(PathSensor), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("sensor HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// readLoop delivers socket messages until the socket fails. A close frame
// from the vehicle is a lost link; any other read error, including a TCP drop
// without a close frame, downgrades to HTTP.
func (t *WiFiTransport) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, err)
			return
		}
		t.data.deliver(msg)
	}
}

func (t *WiFiTransport) handleReadError(conn *websocket.Conn, err error) {
	t.mu.Lock()
	stale := t.closing || t.ws != conn
	t.mu.Unlock()
	if stale {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		t.logger.WithError(err).Warn("WiFi connection lost")
		t.teardown()
		t.lost.report(fmt.Errorf("%w: websocket closed: %w", device.ErrNotConnected, err))
		return
	}
	t.downgrade(err)
}

// downgrade drops the socket and switches to HTTP for the rest of the session.
func (t *WiFiTransport) downgrade(cause error) {
	t.mu.Lock()
	conn := t.ws
	if conn == nil || t.closing {
		t.mu.Unlock()
		return
	}
	t.ws = nil
	t.link = LinkHTTP
	ctx := t.linkCtx
	t.mu.Unlock()

	_ = conn.Close()
	t.logger.WithError(cause).Warn("WebSocket error, falling back to HTTP")
	t.session.Update(func(info *Info) {
		info.Link = LinkHTTP
		info.Reception = ReceptionPoll
	})
	t.startPolling(ctx)
	if t.opts.OnDowngrade != nil {
		t.opts.OnDowngrade(cause)
	}
}

// Send writes the frame on the socket, or POSTs it once the link is HTTP.
// A failed socket write downgrades the link and retries the frame over HTTP.
func (t *WiFiTransport) Send(ctx context.Context, f protocol.Frame) error {
	t.mu.Lock()
	conn, connected := t.ws, t.connected
	t.mu.Unlock()

	if !connected {
		return device.ErrNotConnected
	}

	payload := protocol.Encode(f)
	if conn != nil {
		t.writeMutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, payload)
		t.writeMutex.Unlock()
		if err == nil {
			t.logger.WithField("frame", f.String()).Debug("Sent frame over WebSocket")
			return nil
		}
		t.downgrade(err)
	}
	return t.post(ctx, payload)
}

func (t *WiFiTransport) post(ctx context.Context, payload []byte) error {
	body, err := json.Marshal(CommandRequest{Command: string(payload)})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.CommandTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.httpURL(PathCommand), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d: %s", device.ErrNetwork, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	t.logger.WithField("command", string(payload)).Debug("Sent frame over HTTP")
	return nil
}

// Close ends the session. It is safe to call twice.
func (t *WiFiTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	return t.teardown()
}

func (t *WiFiTransport) teardown() error {
	t.mu.Lock()
	conn, source, cancel := t.ws, t.source, t.cancel
	t.ws, t.source, t.cancel = nil, nil, nil
	t.connected = false
	t.link = ""
	t.mu.Unlock()

	if source != nil {
		source.Stop()
	}
	if cancel != nil {
		cancel()
	}
	t.session.Clear()

	if conn == nil {
		return nil
	}
	t.writeMutex.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMutex.Unlock()
	return conn.Close()
}

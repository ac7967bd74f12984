package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/groutine"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/transport"
)

// DefaultTelemetryInterval is how often the simulated vehicle moves and
// pushes telemetry to socket clients.
const DefaultTelemetryInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Options configures a Server.
type Options struct {
	TelemetryInterval time.Duration
	// DisableWebSocket answers /ws with 404, forcing clients onto HTTP.
	DisableWebSocket bool
}

// Server serves the vehicle API for one Vehicle.
type Server struct {
	Vehicle *Vehicle

	opts   Options
	logger *logrus.Logger
	router chi.Router

	mu      sync.Mutex
	sockets map[*websocket.Conn]*sync.Mutex

	statusCode atomic.Int32
}

// NewServer creates a server around a fresh Vehicle.
func NewServer(opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = DefaultTelemetryInterval
	}
	s := &Server{
		Vehicle: NewVehicle(),
		opts:    opts,
		logger:  logger,
		sockets: make(map[*websocket.Conn]*sync.Mutex),
	}
	s.statusCode.Store(http.StatusOK)

	r := chi.NewRouter()
	r.Get(transport.PathStatus, s.handleStatus)
	r.Get(transport.PathSensor, s.handleSensor)
	r.Post(transport.PathCommand, s.handleCommand)
	if !opts.DisableWebSocket {
		r.Get(transport.PathWebSocket, s.handleWebSocket)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetStatusCode makes /status, /sensor and /command answer with code.
func (s *Server) SetStatusCode(code int) { s.statusCode.Store(int32(code)) }

func (s *Server) failing(w http.ResponseWriter) bool {
	code := int(s.statusCode.Load())
	if code >= 200 && code <= 299 {
		return false
	}
	http.Error(w, http.StatusText(code), code)
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Vehicle.Status())
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(EncodeObject(s.Vehicle.Telemetry()))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.failing(w) {
		return
	}
	var body transport.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.WithError(err).Warn("Command: invalid request body")
		return
	}
	f, ok := protocol.Decode([]byte(body.Command))
	if !ok {
		http.Error(w, "Invalid frame", http.StatusBadRequest)
		s.logger.WithField("command", body.Command).Warn("Command: invalid frame")
		return
	}
	s.Vehicle.Apply(f, "http")
	s.logger.WithFields(logrus.Fields{"frame": f.String(), "via": "http"}).Debug("Vehicle received frame")

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.sockets[conn] = &sync.Mutex{}
	s.mu.Unlock()
	s.logger.WithField("remote", r.RemoteAddr).Info("Controller connected")

	defer func() {
		s.mu.Lock()
		delete(s.sockets, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.WithField("remote", r.RemoteAddr).Info("Controller disconnected")
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, ok := protocol.Decode(msg)
		if !ok {
			s.logger.WithField("payload", string(msg)).Debug("Ignoring undecodable socket message")
			continue
		}
		s.Vehicle.Apply(f, "ws")
		s.logger.WithFields(logrus.Fields{"frame": f.String(), "via": "ws"}).Debug("Vehicle received frame")
	}
}

// Broadcast pushes every current telemetry frame to each socket client.
func (s *Server) Broadcast() {
	frames := s.Vehicle.Telemetry()

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, wmu := range s.sockets {
		wmu.Lock()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, protocol.Encode(f)); err != nil {
				break
			}
		}
		wmu.Unlock()
	}
}

// SocketCount returns the number of connected socket clients.
func (s *Server) SocketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// CloseSockets sends a close frame to every socket client.
func (s *Server) CloseSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, wmu := range s.sockets {
		wmu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "vehicle shutting down"))
		wmu.Unlock()
		_ = conn.Close()
	}
}

// BreakSockets drops every socket's TCP connection without a close frame.
func (s *Server) BreakSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.sockets {
		_ = conn.UnderlyingConn().Close()
	}
}

// Run advances the vehicle and pushes telemetry until ctx ends.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Vehicle.Tick()
			s.Broadcast()
		}
	}
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	groutine.Go(ctx, "simulator-tick", s.Run)
	groutine.Go(ctx, "simulator-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		s.CloseSockets()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("Simulated vehicle listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// EncodeObject renders frames as one flat JSON object in frame order.
// Numeric values are emitted as JSON numbers.
func EncodeObject(frames []protocol.Frame) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Key)
		buf.Write(key)
		buf.WriteByte(':')
		if _, err := strconv.ParseFloat(f.Value, 64); err == nil && json.Valid([]byte(f.Value)) {
			buf.WriteString(f.Value)
		} else {
			val, _ := json.Marshal(f.Value)
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

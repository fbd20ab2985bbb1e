// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/history"
	"github.com/GriffinCanCode/reverser/internal/ocr"
	"github.com/GriffinCanCode/reverser/internal/overlay"
	"github.com/GriffinCanCode/reverser/internal/pipeline"
	"github.com/GriffinCanCode/reverser/internal/resilience"
	"github.com/GriffinCanCode/reverser/internal/trace"
	"github.com/GriffinCanCode/reverser/internal/viewfinder"
)

// Pipeline is the recognition controller surface the host drives.
type Pipeline interface {
	State() pipeline.State
	Mode() pipeline.Mode
	Result() *ocr.Result
	Metrics() pipeline.MetricsSnapshot
	EngineStatus() resilience.Status
	SessionID() string
	Pause()
	Resume()
	Dismiss() bool
	SetMode(m pipeline.Mode)
	RequestShot() error
	Subscribe(buffer int) (<-chan pipeline.Event, func())
}

// FrameSink accepts host-pushed preview frames.
type FrameSink interface {
	Offer(data []byte) (bool, error)
	Latest() image.Image
}

// Deps wires the server. Frames and History may be nil.
type Deps struct {
	Pipeline    Pipeline
	Viewfinder  *viewfinder.Manager
	Renderer    *overlay.Renderer
	Frames      FrameSink
	History     *history.Store
	OnTerminate func()
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan any
	limiter rateLimiter
}

// enqueue never blocks; a client that cannot keep up loses messages.
func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	deps Deps

	mu      sync.RWMutex
	clients map[string]*client

	cancel   func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a server and starts relaying pipeline events to websocket clients.
func New(deps Deps) *Server {
	events, cancel := deps.Pipeline.Subscribe(0)
	s := &Server{
		deps:    deps,
		clients: make(map[string]*client),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.broadcast(events)
	return s
}

// Close stops the event relay. Open connections are left to their handlers.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/result", s.handleResult)
	mux.HandleFunc("GET /api/overlay.png", s.handleOverlay)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/frame", s.handleFrame)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /api/shot", s.handleShot)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.HandleFunc("POST /api/viewfinder", s.handleViewfinder)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan any, ClientSendBuffer)}
	baseCtx := r.Context()
	log := trace.Logger(baseCtx).With("client", c.id)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c)
	}()

	// Greet with the current state so late joiners need not poll.
	c.enqueue(s.stateMessage())
	s.register(c)
	defer func() {
		s.unregister(c)
		cancel()
		<-writerDone
	}()

	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(ErrorMessage{Type: "error", Code: string(apperrors.CodeResourceUnavailable), Message: "rate limit exceeded"})
			continue
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.enqueue(ErrorMessage{Type: "error", Code: string(apperrors.CodeInvalidArgument), Message: "malformed command"})
			continue
		}

		cmdCtx := trace.WithContext(baseCtx, trace.Incoming(cmd.TraceID, ""))
		s.handleCommand(cmdCtx, c, cmd)
	}
}

func (s *Server) handleCommand(ctx context.Context, c *client, cmd Command) {
	ctx, span := trace.StartSpan(ctx, "handle_command")
	defer span.End()
	span.SetAttr("type", cmd.Type)

	log := trace.Logger(ctx)
	log.Debug("websocket command", "type", cmd.Type, "client", c.id)

	p := s.deps.Pipeline
	switch cmd.Type {
	case "pause":
		p.Pause()
	case "resume":
		p.Resume()
	case "dismiss":
		if p.Dismiss() {
			c.enqueue(TerminateMessage{Type: "terminate"})
			s.terminate()
		}
	case "shot":
		if err := p.RequestShot(); err != nil {
			span.SetAttr("error", err.Error())
			c.enqueue(errorMessage(err))
		}
	case "mode":
		p.SetMode(modeOf(cmd.Continuous))
	case "adjust":
		applied := s.deps.Viewfinder.Adjust(cmd.DW, cmd.DH)
		c.enqueue(ViewfinderMessage{Type: "viewfinder", Applied: applied, Frame: toBox(s.deps.Viewfinder.Frame())})
	case "drag":
		if cmd.From == nil || cmd.To == nil {
			c.enqueue(ErrorMessage{Type: "error", Code: string(apperrors.CodeInvalidArgument), Message: "drag needs from and to"})
			return
		}
		applied := s.deps.Viewfinder.Drag(image.Pt(cmd.From.X, cmd.From.Y), image.Pt(cmd.To.X, cmd.To.Y))
		c.enqueue(ViewfinderMessage{Type: "viewfinder", Applied: applied, Frame: toBox(s.deps.Viewfinder.Frame())})
	default:
		c.enqueue(ErrorMessage{Type: "error", Code: string(apperrors.CodeInvalidArgument), Message: "unknown command " + cmd.Type})
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				slog.Debug("websocket write error", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcast(events <-chan pipeline.Event) {
	defer close(s.done)
	for e := range events {
		msg := newEventMessage(e)

		s.mu.RLock()
		for _, c := range s.clients {
			if !c.enqueue(msg) {
				slog.Debug("websocket client lagging, event dropped", "client", c.id, "type", msg.Type)
			}
		}
		s.mu.RUnlock()
	}
}

func (s *Server) stateMessage() EventMessage {
	p := s.deps.Pipeline
	return EventMessage{
		Type:   string(pipeline.EventStateChanged),
		State:  p.State(),
		Mode:   p.Mode(),
		Result: newResultView(p.Result()),
		At:     time.Now(),
	}
}

func (s *Server) terminate() {
	if s.deps.OnTerminate != nil {
		s.deps.OnTerminate()
	}
}

func modeOf(continuous bool) pipeline.Mode {
	if continuous {
		return pipeline.Continuous
	}
	return pipeline.SingleShot
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Message: err.Error()}
}

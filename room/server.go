package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config 聊天室服务配置。
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MessageRate     float64
	MessageBurst    int
}

// TurnBroadcaster adapts a hub into a conversation.TurnListener so every
// appended turn is pushed into the room as it happens.
func TurnBroadcaster(h *Hub) conversation.TurnListener {
	return func(t conversation.Turn) {
		from := t.AuthorName
		if from == "" {
			from = conversation.UserAuthorName
		}
		h.Broadcast(Event{
			Type:      EventMessage,
			From:      from,
			Content:   t.Content,
			Timestamp: t.Timestamp,
		})
	}
}

// Server drives one orchestrator from a WebSocket chat room. The first user
// message of an idle orchestrator seeds a new run; turns are broadcast via
// the hub's TurnBroadcaster listener.
type Server struct {
	cfg    Config
	hub    *Hub
	orch   *conversation.Orchestrator
	logger *zap.Logger
}

// NewServer creates a room server. The orchestrator should carry
// TurnBroadcaster(hub) as a turn listener so the room sees the transcript.
func NewServer(cfg Config, orch *conversation.Orchestrator, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 1
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 5
	}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		orch:   orch,
		logger: logger.With(zap.String("component", "room_server")),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("room server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("room server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":   s.orch.State(),
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)
	c := s.hub.register(limiter)

	ctx := r.Context()
	go s.writePump(ctx, conn, c)

	// 新成员先补发完整历史
	for _, entry := range s.orch.History() {
		s.hub.sendTo(c, Event{
			Type:      EventMessage,
			From:      entry.From,
			Content:   entry.Content,
			Timestamp: entry.Timestamp,
		})
	}

	s.readPump(ctx, conn, c)

	s.hub.unregister(c)
	_ = conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var in struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &in); err != nil || in.Content == "" {
			continue
		}

		if !c.limiter.Allow() {
			s.hub.sendTo(c, Event{Type: EventNotice, Content: "You are sending messages too quickly."})
			continue
		}

		s.handleUserMessage(in.Content)
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, c *client) {
	for ev := range c.send {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		writeCtx := ctx
		if s.cfg.WriteTimeout > 0 {
			var cancel context.CancelFunc
			writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
		} else {
			err = conn.Write(writeCtx, websocket.MessageText, data)
		}
		if err != nil {
			return
		}
	}
}

// handleUserMessage seeds a new run from an idle orchestrator. A message
// arriving while a run is active gets a transient notice; failures are
// surfaced to the room without ending anyone's session.
func (s *Server) handleUserMessage(content string) {
	if s.orch.State() == conversation.StateActive {
		s.hub.Broadcast(Event{Type: EventNotice, Content: "A conversation is already running; wait for it to finish."})
		return
	}

	go func() {
		result, err := s.orch.StartGroup(context.Background(), content)
		if err != nil {
			s.logger.Warn("room conversation failed", zap.Error(err))
			s.hub.Broadcast(Event{
				Type:    EventNotice,
				Content: fmt.Sprintf("The conversation stopped with an error: %v", err),
			})
			return
		}
		s.hub.Broadcast(Event{
			Type:    EventNotice,
			Content: fmt.Sprintf("Conversation ended (%s) after %d turns.", result.TerminationReason, result.TurnCount),
		})
	}()
}

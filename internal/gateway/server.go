package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/controller"
	"github.com/fbdash/fbdash/internal/flush"
	"github.com/fbdash/fbdash/internal/status"
	"github.com/fbdash/fbdash/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Proxy is the slice of the backend client the gateway forwards verbatim to
// the UI: reads and label management that carry no offline semantics.
type Proxy interface {
	GetMessages(ctx context.Context, conversationID string, limit int) ([]backend.Message, error)
	ListLabels(ctx context.Context) ([]backend.Label, error)
	CreateLabel(ctx context.Context, name, color string) (*backend.Label, error)
	UpdateLabel(ctx context.Context, label backend.Label) error
	DeleteLabel(ctx context.Context, labelID string) error
	AttachLabel(ctx context.Context, customerID, labelID string) error
	DetachLabel(ctx context.Context, customerID, labelID string) error
	ListQuickReplies(ctx context.Context) ([]backend.QuickReply, error)
	Translate(ctx context.Context, text, to string) (string, error)
	SubscribePush(ctx context.Context, sub backend.PushSubscription) error
}

// Flusher runs one queue drain pass on demand and accepts platform push
// payloads relayed by the UI's service worker.
type Flusher interface {
	Flush(ctx context.Context)
	OnPushReceived(p flush.PushPayload)
}

// Server is the local HTTP/WS API the browser UI talks to. It binds to
// loopback; everything authenticated lives behind the backend client, so the
// gateway itself carries no credentials.
type Server struct {
	ctrl    *controller.Controller
	machine *status.Machine
	queue   store.Queue
	proxy   Proxy
	flusher Flusher
	bus     *bus.Bus
	logger  *zap.Logger

	listen string
	ln     net.Listener
	srv    *http.Server
}

// New creates a gateway server for the given listen address.
func New(listen string, ctrl *controller.Controller, m *status.Machine, q store.Queue, proxy Proxy, flusher Flusher, b *bus.Bus, logger *zap.Logger) *Server {
	return &Server{
		ctrl:    ctrl,
		machine: m,
		queue:   q,
		proxy:   proxy,
		flusher: flusher,
		bus:     b,
		logger:  logger,
		listen:  listen,
	}
}

// Start binds the listener and serves in the background. Binding failures
// are returned synchronously so a busy port fails daemon startup.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.routes(router)

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: router}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve failed", zap.Error(err))
		}
	}()
	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.listen
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/conversations", s.handleConversations)
	api.GET("/conversations/:id/messages", s.handleMessages)
	api.POST("/conversations/:id/send", s.handleSend)
	api.POST("/conversations/:id/select", s.handleSelect)
	api.POST("/visibility", s.handleVisibility)
	api.GET("/queue", s.handleQueue)
	api.DELETE("/queue", s.handleQueueClear)
	api.POST("/queue/flush", s.handleFlush)
	api.POST("/mute", s.handleMute)
	api.POST("/push", s.handlePush)
	api.POST("/push/subscribe", s.handlePushSubscribe)

	api.GET("/labels", s.handleListLabels)
	api.POST("/labels", s.handleCreateLabel)
	api.PUT("/labels/:id", s.handleUpdateLabel)
	api.DELETE("/labels/:id", s.handleDeleteLabel)
	api.POST("/customers/:id/labels", s.handleAttachLabel)
	api.DELETE("/customers/:id/labels/:labelId", s.handleDetachLabel)
	api.GET("/quickreplies", s.handleQuickReplies)
	api.POST("/translate", s.handleTranslate)

	r.GET("/ws", s.handleEventStream)
}

// fail maps the error taxonomy to HTTP: definitive backend rejections pass
// their status through, network and storage failures are 503, the rest 500.
func fail(c *gin.Context, err error) {
	var rejected *backend.RejectedError
	switch {
	case errors.As(err, &rejected):
		c.JSON(rejected.Status, gin.H{"error": rejected.Body})
	case errors.Is(err, backend.ErrNetworkUnreachable), errors.Is(err, store.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

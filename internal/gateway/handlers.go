package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/flush"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type statusResponse struct {
	State           string `json:"state"`
	Attempts        int    `json:"attempts"`
	LastConnectedAt int64  `json:"last_connected_at,omitempty"`
	QueuePending    int    `json:"queue_pending"`
	QueueDurable    bool   `json:"queue_durable"`
	Muted           bool   `json:"muted"`
}

func (s *Server) handleStatus(c *gin.Context) {
	pending, err := s.queue.CountPending()
	if err != nil {
		s.logger.Warn("status: queue count failed", zap.Error(err))
	}
	res := statusResponse{
		State:        string(s.machine.Current()),
		Attempts:     s.machine.Attempts(),
		QueuePending: pending,
		QueueDurable: s.queue.Durable(),
		Muted:        s.ctrl.Muted(),
	}
	if t := s.machine.LastConnectedAt(); !t.IsZero() {
		res.LastConnectedAt = t.UnixMilli()
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleConversations(c *gin.Context) {
	views, err := s.ctrl.Conversations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := s.proxy.GetMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendRequest struct {
	Message   string `json:"message" binding:"required"`
	Translate bool   `json:"translate"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.ctrl.SendMessage(c.Request.Context(), c.Param("id"), req.Message, req.Translate)
	if err != nil {
		fail(c, err)
		return
	}
	code := http.StatusOK
	if out.Queued {
		// Accepted for later delivery, not yet sent.
		code = http.StatusAccepted
	}
	c.JSON(code, out)
}

func (s *Server) handleSelect(c *gin.Context) {
	msgs, err := s.ctrl.SelectConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		// The focus change took effect; the history fetch did not. The UI
		// renders whatever is queued locally and knows it is degraded.
		c.JSON(http.StatusOK, gin.H{"messages": msgs, "degraded": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "degraded": false})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

func (s *Server) handleVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ctrl.Visibility(*req.Visible)
	c.Status(http.StatusNoContent)
}

type queueEntry struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	Translate      bool   `json:"translate"`
	CreatedAt      int64  `json:"created_at"`
}

func (s *Server) handleQueue(c *gin.Context) {
	pending, err := s.queue.ListPending()
	if err != nil {
		fail(c, err)
		return
	}
	entries := make([]queueEntry, 0, len(pending))
	for _, m := range pending {
		entries = append(entries, queueEntry{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Body:           m.Body,
			Translate:      m.Translate,
			CreatedAt:      m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, entries)
}

// handleQueueClear drops every queued message. Administrative escape hatch,
// not part of any steady-state flow.
func (s *Server) handleQueueClear(c *gin.Context) {
	if err := s.queue.ClearAll(); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFlush(c *gin.Context) {
	before, _ := s.queue.CountPending()
	s.flusher.Flush(c.Request.Context())
	after, err := s.queue.CountPending()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"before": before, "after": after})
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (s *Server) handleMute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ctrl.SetMuted(*req.Muted)
	c.Status(http.StatusNoContent)
}

// handlePush relays a platform push payload from the UI's service worker.
// A push implies connectivity, so it doubles as a flush trigger.
func (s *Server) handlePush(c *gin.Context) {
	var p flush.PushPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.flusher.OnPushReceived(p)
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePushSubscribe(c *gin.Context) {
	var sub backend.PushSubscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.SubscribePush(c.Request.Context(), sub); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListLabels(c *gin.Context) {
	labels, err := s.proxy.ListLabels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, labels)
}

type labelRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

func (s *Server) handleCreateLabel(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label, err := s.proxy.CreateLabel(c.Request.Context(), req.Name, req.Color)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, label)
}

func (s *Server) handleUpdateLabel(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label := backend.Label{ID: c.Param("id"), Name: req.Name, Color: req.Color}
	if err := s.proxy.UpdateLabel(c.Request.Context(), label); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, label)
}

func (s *Server) handleDeleteLabel(c *gin.Context) {
	if err := s.proxy.DeleteLabel(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type attachRequest struct {
	LabelID string `json:"labelId" binding:"required"`
}

func (s *Server) handleAttachLabel(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxy.AttachLabel(c.Request.Context(), c.Param("id"), req.LabelID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDetachLabel(c *gin.Context) {
	if err := s.proxy.DetachLabel(c.Request.Context(), c.Param("id"), c.Param("labelId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleQuickReplies(c *gin.Context) {
	replies, err := s.proxy.ListQuickReplies(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, replies)
}

type translateRequest struct {
	Text string `json:"text" binding:"required"`
	To   string `json:"to" binding:"required"`
}

func (s *Server) handleTranslate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, err := s.proxy.Translate(c.Request.Context(), req.Text, req.To)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text, "at": time.Now().UnixMilli()})
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/common"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/project"
)

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

// SendChatMessage starts a run and returns before it finishes. A project
// with a run in flight answers 409.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	runID, err := h.Coord.Start(c.Request.Context(), uid, c.Param("project_id"), req.Message)
	if err != nil {
		h.writeErr(c, "send chat message", err)
		return
	}
	common.Accepted(c, gin.H{"run_id": runID, "status": "processing"})
}

func (h *Handler) GetChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Projects.Chat(c.Request.Context(), uid, c.Param("project_id"))
	if err != nil {
		h.writeErr(c, "chat history", err)
		return
	}
	common.OK(c, view)
}

func (h *Handler) ClearChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Projects.ClearChat(c.Request.Context(), uid, c.Param("project_id")); err != nil {
		h.writeErr(c, "clear chat", err)
		return
	}
	common.OK(c, gin.H{"cleared": true})
}

func (h *Handler) GetRun(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	run, err := h.Projects.Run(c.Request.Context(), uid, c.Param("run_id"))
	if err == nil && run.ProjectID != c.Param("project_id") {
		err = project.ErrRunNotFound
	}
	if err != nil {
		h.writeErr(c, "get run", err)
		return
	}
	common.OK(c, gin.H{"run": run})
}

// StreamEvents sends the current timeline as a "snapshot" event and then one
// "event" per new timeline entry until the client goes away.
func (h *Handler) StreamEvents(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id := c.Param("project_id")
	ctx := c.Request.Context()

	// subscribe before the snapshot so nothing falls between the two
	var live <-chan events.ChatEvent
	if h.Events != nil {
		ch, closeSub, err := h.Events.Subscribe(ctx, id)
		if err != nil {
			h.Logger.Warn("event subscribe failed, polling instead", zap.String("project_id", id), zap.Error(err))
		} else {
			defer func() { _ = closeSub() }()
			live = ch
		}
	}

	view, err := h.Projects.Chat(ctx, uid, id)
	if err != nil {
		h.writeErr(c, "event stream", err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	writeJSON("snapshot", view)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	if live == nil {
		h.pollEvents(ctx, uid, id, len(view.Events), ticker.C, writeJSON)
		return
	}
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				writeJSON("end", gin.H{"type": "end"})
				return
			}
			writeJSON("event", ev)
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}

// pollEvents is the stream without Redis: re-read the timeline every second
// and send what was appended since the last read.
func (h *Handler) pollEvents(ctx context.Context, uid uint64, id string, sent int, heartbeat <-chan time.Time, writeJSON func(string, any)) {
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-poll.C:
			view, err := h.Projects.Chat(ctx, uid, id)
			if err != nil {
				writeJSON("error", gin.H{"type": "error", "message": "project unavailable"})
				return
			}
			if len(view.Events) < sent {
				// timeline was cleared
				sent = 0
			}
			for _, ev := range view.Events[sent:] {
				writeJSON("event", ev)
			}
			sent = len(view.Events)
		case <-heartbeat:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}

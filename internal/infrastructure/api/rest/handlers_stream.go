package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/smilemakc/mbflow/internal/application/eventbus"
	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

const (
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamWriteWait  = 10 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler implements GET /flow/logs: a WebSocket feed of a run's
// ordered events, replayed from the start for whoever connects late.
type StreamHandler struct {
	runner *scheduler.Runner
	bus    *eventbus.Bus
	log    *logger.Logger
}

func NewStreamHandler(runner *scheduler.Runner, bus *eventbus.Bus, log *logger.Logger) *StreamHandler {
	return &StreamHandler{runner: runner, bus: bus, log: log}
}

// RunLogs serves GET /flow/logs?flow_id=[&run_id=] as a WebSocket when the
// client asks for one, falling back to a Server-Sent Events stream
// otherwise — spec.md §4.7 requires both so clients without WebSocket
// support can still observe progress.
func (h *StreamHandler) RunLogs(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		flowID, ok := queryInt64(c, "flow_id")
		if !ok {
			respondBadRequest(c, "flow_id or run_id is required")
			return
		}
		id, ok := h.runner.LatestRun(flowID)
		if !ok {
			respondError(c, models.ErrRunNotFound)
			return
		}
		runID = id
	}

	events, unsub, ok := h.bus.Subscribe(runID)
	if !ok {
		respondError(c, models.ErrRunNotFound)
		return
	}

	if websocket.IsWebSocketUpgrade(c.Request) {
		h.serveWebSocket(c, events, unsub)
		return
	}
	h.serveSSE(c, events, unsub)
}

func (h *StreamHandler) serveWebSocket(c *gin.Context, events <-chan models.Event, unsub func()) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsub()
		if h.log != nil {
			h.log.Error("failed to upgrade websocket connection", "error", err)
		}
		return
	}

	go h.readPump(conn, unsub)
	h.writePump(conn, events)
}

// serveSSE streams the same event log as text/event-stream frames for
// clients that cannot speak WebSocket.
func (h *StreamHandler) serveSSE(c *gin.Context, events <-chan models.Event, unsub func()) {
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, canFlush := c.Writer.(http.Flusher)
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return true
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			if canFlush {
				flusher.Flush()
			}
			return evt.Type != models.EventRunFinished

		case <-c.Request.Context().Done():
			return false
		}
	})
}

// readPump only watches for the client going away; clients never send
// anything meaningful on this stream.
func (h *StreamHandler) readPump(conn *websocket.Conn, unsub func()) {
	defer func() {
		unsub()
		_ = conn.Close()
	}()
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the subscription until the run finishes, the
// subscriber channel closes, or the write side fails.
func (h *StreamHandler) writePump(conn *websocket.Conn, events <-chan models.Event) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if evt.Type == models.EventRunFinished {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

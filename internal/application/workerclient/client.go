// Package workerclient is the C4 client half of the Worker IPC: it owns a
// worker subprocess, multiplexes task submissions over its single
// connection by task id, and restarts the process on transport failure.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
	"github.com/smilemakc/mbflow/pkg/workerproto"
)

// Event is an alias for the scheduler's wire-level event shape: Client
// implements scheduler.WorkerClient directly, so no adapter layer sits
// between the two packages.
type Event = scheduler.WorkerEvent

const (
	EventProgress = scheduler.WorkerProgress
	EventLog      = scheduler.WorkerLog
	EventDone     = scheduler.WorkerDone
	EventError    = scheduler.WorkerError
)

const (
	pingInterval = 5 * time.Second
	pongTimeout  = 5 * time.Second
)

// Client manages one worker subprocess and the in-flight tasks submitted
// to it.
type Client struct {
	command []string
	log     *logger.Logger

	mu      sync.Mutex
	proc    *exec.Cmd
	writer  *workerproto.Writer
	stdin   io.WriteCloser
	pending map[string]chan Event
	alive   bool
	lastPong time.Time
}

// New creates a client configured to launch the worker with the given
// command (FLOWFILE_WORKER_CMD, split into argv), but does not start it.
func New(command []string, log *logger.Logger) *Client {
	return &Client{command: command, log: log, pending: make(map[string]chan Event)}
}

// Start launches the worker process and begins its read/keepalive loops.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawnLocked(ctx)
}

func (c *Client) spawnLocked(ctx context.Context) error {
	if len(c.command) == 0 {
		return fmt.Errorf("workerclient: no worker command configured")
	}
	cmd := exec.Command(c.command[0], c.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("workerclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("workerclient: stdout pipe: %w", err)
	}
	cmd.Stderr = newStderrLog(c.log)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("workerclient: start worker: %w", err)
	}

	c.proc = cmd
	c.stdin = stdin
	c.writer = workerproto.NewWriter(stdin)
	c.alive = true
	c.lastPong = time.Now()

	reader := workerproto.NewReader(stdout)
	go c.readLoop(reader)
	go c.keepaliveLoop()
	go func() {
		if err := cmd.Wait(); err != nil {
			c.log.Warn("worker process exited", "error", err)
		}
	}()

	c.log.Info("worker process started", "pid", cmd.Process.Pid)
	return nil
}

// Submit starts a task on the worker and returns a channel of its ordered
// progress events, closed after the terminal done/error frame.
func (c *Client) Submit(ctx context.Context, plan *registry.Plan, taskID string) (<-chan Event, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("workerclient: marshal plan: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return nil, &models.ProtocolError{Reason: "worker connection is not alive"}
	}

	ch := make(chan Event, 16)
	c.pending[taskID] = ch

	payload := workerproto.StartPayload{TaskID: taskID, Kind: plan.Kind, NodeID: plan.NodeID, Plan: planJSON}
	if err := c.writer.WriteFrame(workerproto.TagStart, payload); err != nil {
		delete(c.pending, taskID)
		return nil, fmt.Errorf("workerclient: write start frame: %w", err)
	}
	return ch, nil
}

// Cancel sends a best-effort cancellation frame for a task.
func (c *Client) Cancel(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	_ = c.writer.WriteFrame(workerproto.TagCancel, workerproto.CancelPayload{TaskID: taskID})
}

func (c *Client) takeChannel(taskID string) (chan Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[taskID]
	return ch, ok
}

func (c *Client) dropChannel(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, taskID)
}

// readLoop decodes frames until the connection fails, then fails every
// outstanding task with worker-lost and attempts to respawn.
func (c *Client) readLoop(r *workerproto.Reader) {
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			c.log.Warn("worker connection lost", "error", err)
			c.failAllPending(models.WorkerLost, err.Error())
			c.respawn()
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame workerproto.Frame) {
	switch frame.Tag {
	case workerproto.TagPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	case workerproto.TagProgress:
		var p workerproto.ProgressPayload
		if err := workerproto.Decode(frame, &p); err != nil {
			return
		}
		if ch, ok := c.takeChannel(p.TaskID); ok {
			ch <- Event{Type: EventProgress, Rows: p.Rows, Bytes: p.Bytes, Phase: p.Phase}
		}

	case workerproto.TagLog:
		var l workerproto.LogPayload
		if err := workerproto.Decode(frame, &l); err != nil {
			return
		}
		if ch, ok := c.takeChannel(l.TaskID); ok {
			ch <- Event{Type: EventLog, Level: l.Level, Message: l.Message}
		}

	case workerproto.TagDone:
		var d workerproto.DonePayload
		if err := workerproto.Decode(frame, &d); err != nil {
			return
		}
		if ch, ok := c.takeChannel(d.TaskID); ok {
			var schema models.Schema
			_ = json.Unmarshal(d.Schema, &schema)
			ch <- Event{Type: EventDone, Artifact: &models.Artifact{
				Hash: d.Hash, Path: d.Path, Format: models.ArtifactFormat(d.Format),
				Schema: schema, RowCount: d.RowCount,
			}}
			close(ch)
			c.dropChannel(d.TaskID)
		}

	case workerproto.TagError:
		var e workerproto.ErrorPayload
		if err := workerproto.Decode(frame, &e); err != nil {
			return
		}
		if ch, ok := c.takeChannel(e.TaskID); ok {
			ch <- Event{Type: EventError, ErrKind: models.ExecutionErrorKind(e.Kind), ErrMsg: e.Message}
			close(ch)
			c.dropChannel(e.TaskID)
		}
	}
}

func (c *Client) failAllPending(kind models.ExecutionErrorKind, msg string) {
	c.mu.Lock()
	c.alive = false
	pending := c.pending
	c.pending = make(map[string]chan Event)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Event{Type: EventError, ErrKind: kind, ErrMsg: msg}
		close(ch)
	}
}

func (c *Client) respawn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.spawnLocked(context.Background()); err != nil {
		c.log.Error("failed to respawn worker", "error", err)
	}
}

// keepaliveLoop pings the worker every pingInterval and declares it lost
// once no pong has arrived for pingInterval+2*pongTimeout (two missed
// keepalives).
func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		alive := c.alive
		sincePong := time.Since(c.lastPong)
		if alive {
			_ = c.writer.WriteFrame(workerproto.TagPing, struct{}{})
		}
		c.mu.Unlock()

		if !alive {
			return
		}
		if sincePong > pingInterval+2*pongTimeout {
			c.log.Warn("worker missed two keepalives, declaring lost")
			c.failAllPending(models.WorkerLost, "worker missed two keepalives")
			c.respawn()
			return
		}
	}
}

// Close terminates the worker process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
	if c.proc == nil || c.proc.Process == nil {
		return nil
	}
	return c.proc.Process.Kill()
}

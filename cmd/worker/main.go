// flowfile-worker is the out-of-process execution backend for a single
// plan at a time (or several, multiplexed by task id over one stdin/stdout
// connection per spec.md §5). It speaks the workerproto wire format
// exclusively on stdout; all logging goes to stderr, which the owning
// server process relays into its own structured log.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/smilemakc/mbflow/internal/application/workerrun"
	"github.com/smilemakc/mbflow/pkg/registry"
	"github.com/smilemakc/mbflow/pkg/workerproto"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	artifactDir := os.Getenv("FLOWFILE_ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "/var/lib/flowfile/artifacts"
	}

	w := &worker{
		writer:      workerproto.NewWriter(os.Stdout),
		reader:      workerproto.NewReader(os.Stdin),
		log:         log,
		artifactDir: artifactDir,
		cancels:     make(map[string]context.CancelFunc),
	}
	w.run()
}

// worker owns the single stdin/stdout connection to the server process.
// Writes are serialized with writeMu since every in-flight task's
// goroutine writes frames concurrently.
type worker struct {
	writer *workerproto.Writer
	reader *workerproto.Reader
	log    *slog.Logger

	artifactDir string

	writeMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (w *worker) run() {
	for {
		frame, err := w.reader.ReadFrame()
		if err != nil {
			w.log.Error("connection closed", "error", err)
			return
		}
		switch frame.Tag {
		case workerproto.TagStart:
			var p workerproto.StartPayload
			if err := workerproto.Decode(frame, &p); err != nil {
				w.log.Error("malformed start frame", "error", err)
				continue
			}
			w.startTask(p)

		case workerproto.TagCancel:
			var p workerproto.CancelPayload
			if err := workerproto.Decode(frame, &p); err != nil {
				continue
			}
			w.cancelTask(p.TaskID)

		case workerproto.TagPing:
			w.writeFrame(workerproto.TagPong, struct{}{})
		}
	}
}

func (w *worker) startTask(p workerproto.StartPayload) {
	var plan registry.Plan
	if err := json.Unmarshal(p.Plan, &plan); err != nil {
		w.writeFrame(workerproto.TagError, workerproto.ErrorPayload{
			TaskID: p.TaskID, Kind: "plan-invalid", Message: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancels[p.TaskID] = cancel
	w.mu.Unlock()

	task := &workerrun.Task{
		TaskID:      p.TaskID,
		Plan:        &plan,
		ArtifactDir: w.artifactDir,
		Sink:        &frameSink{taskID: p.TaskID, w: w},
	}

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.cancels, p.TaskID)
			w.mu.Unlock()
		}()
		task.Run(ctx)
	}()
}

func (w *worker) cancelTask(taskID string) {
	w.mu.Lock()
	cancel, ok := w.cancels[taskID]
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *worker) writeFrame(tag workerproto.Tag, payload any) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.writer.WriteFrame(tag, payload); err != nil {
		w.log.Error("write frame failed", "tag", tag, "error", err)
	}
}

// frameSink adapts workerrun.Sink onto the wire, tagging every frame with
// the task id it belongs to since the connection multiplexes many tasks.
type frameSink struct {
	taskID string
	w      *worker
}

func (s *frameSink) Progress(rows, bytes int64, phase string) {
	s.w.writeFrame(workerproto.TagProgress, workerproto.ProgressPayload{
		TaskID: s.taskID, Rows: rows, Bytes: bytes, Phase: phase,
	})
}

func (s *frameSink) Log(level, message string) {
	s.w.writeFrame(workerproto.TagLog, workerproto.LogPayload{
		TaskID: s.taskID, Level: level, Message: message,
	})
}

func (s *frameSink) Done(hash, path, format string, schema json.RawMessage, rowCount int64) {
	s.w.writeFrame(workerproto.TagDone, workerproto.DonePayload{
		TaskID: s.taskID, Hash: hash, Path: path, Format: format, Schema: schema, RowCount: rowCount,
	})
}

func (s *frameSink) Error(kind, message, traceback string) {
	s.w.writeFrame(workerproto.TagError, workerproto.ErrorPayload{
		TaskID: s.taskID, Kind: kind, Message: message, Traceback: traceback,
	})
}

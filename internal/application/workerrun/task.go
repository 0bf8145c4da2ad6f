package workerrun

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// Sink is how a running task reports events back to the server process,
// one call per frame the worker process writes to its stdout.
type Sink interface {
	Progress(rows, bytes int64, phase string)
	Log(level, message string)
	Done(hash, path, format string, schema json.RawMessage, rowCount int64)
	Error(kind, message, traceback string)
}

// progressInterval bounds how often a running task may report progress;
// most node kinds here materialize in a single pass and only ever emit
// one progress event, but a future streaming reader would use this to
// throttle itself against the spec's 250ms/N-row cadence.
const progressInterval = 250 * time.Millisecond

// Task runs one plan to completion against a Sink, translating a panic or
// error into an error frame instead of crashing the worker process: one
// bad plan must never take down every other in-flight task.
type Task struct {
	TaskID      string
	Plan        *registry.Plan
	ArtifactDir string
	Sink        Sink
}

// Run executes the task's plan. It recovers from a panic inside node
// execution (an expr-lang program misbehaving, a malformed artifact) and
// reports it as an execution error rather than letting it propagate and
// kill the process that owns every other concurrently running task.
func (t *Task) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.Sink.Error(string(models.ExecutionFail), fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}
	}()

	result, err := Execute(ctx, t.Plan, t.ArtifactDir, func(p Progress) {
		t.Sink.Progress(p.Rows, p.Bytes, p.Phase)
	})
	if err != nil {
		if ctx.Err() != nil {
			t.Sink.Error(string(models.CancelledKind), "cancelled", "")
			return
		}
		t.Sink.Error(string(models.ExecutionFail), err.Error(), "")
		return
	}

	schema, err := json.Marshal(result.Schema)
	if err != nil {
		t.Sink.Error(string(models.ExecutionFail), err.Error(), "")
		return
	}
	t.Sink.Done(result.Hash, result.Path, string(result.Format), schema, result.RowCount)
}

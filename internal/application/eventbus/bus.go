// Package eventbus is the Run Registry & Event Bus (C6): it fans the
// scheduler's ordered per-run events out to any number of subscribers,
// replaying from the start of the run for a late joiner, and retains
// terminal runs until a new run starts on the same flow or a TTL elapses.
//
// The fan-out pattern is grounded on the teacher's ObserverManager
// (internal/application/observer/manager.go): a non-blocking notify loop
// over a snapshot of subscribers, errors/backpressure isolated per
// consumer so one slow subscriber never blocks another or the publisher.
// What the teacher's manager does not need and this one does is per-run
// ordering and replay, since spec.md §5 requires every subscriber to see
// a run's events in emission order starting from wherever it joined.
package eventbus

import (
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

// DefaultBufferSize is the per-subscriber channel capacity. Once full,
// NodeProgress events are dropped for that subscriber and replaced by a
// single Dropped marker; NodeStarted/NodeFinished/RunFinished are never
// dropped (per spec.md §5), so the subscriber always sees the run's
// outcome even if it missed progress ticks.
const DefaultBufferSize = 256

// DefaultRetention is how long a terminal run's log is kept once no new
// run has started on its flow, per spec.md §4.6.
const DefaultRetention = time.Hour

// Bus is the concrete Event Bus. One Bus serves every flow in the
// process; it implements scheduler.EventPublisher.
type Bus struct {
	bufferSize int
	retention  time.Duration
	log        *logger.Logger

	mu       sync.Mutex
	runs     map[string]*runLog
	latest   map[int64]string // flow_id -> most recent run_id, for retention supersession
}

// New constructs an Event Bus with the given per-subscriber buffer size
// and terminal-run retention. Zero values select the spec.md defaults.
func New(bufferSize int, retention time.Duration, log *logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		bufferSize: bufferSize,
		retention:  retention,
		log:        log,
		runs:       make(map[string]*runLog),
		latest:     make(map[int64]string),
	}
}

// runLog is one run's ordered event history plus its live subscribers.
type runLog struct {
	mu         sync.Mutex
	flowID     int64
	events     []models.Event
	subs       map[int]*subscriber
	nextSubID  int
	terminal   bool
	retainTill time.Time
}

type subscriber struct {
	ch      chan models.Event
	dropped int
}

// Publish implements scheduler.EventPublisher. It is called by the Runner
// from whichever goroutine produced the event. A slow subscriber never
// holds up a progress event (it is dropped instead), but a protected
// event waits up to 5s for room in each full subscriber (see deliver).
func (b *Bus) Publish(evt models.Event) {
	rl := b.runLogFor(evt.RunID, evt.FlowID)

	rl.mu.Lock()
	rl.events = append(rl.events, evt)
	if evt.Type == models.EventRunFinished {
		rl.terminal = true
		rl.retainTill = time.Now().Add(b.retention)
	}
	subsCopy := make([]*subscriber, 0, len(rl.subs))
	for _, s := range rl.subs {
		subsCopy = append(subsCopy, s)
	}
	rl.mu.Unlock()

	for _, s := range subsCopy {
		b.deliver(s, evt)
	}

	if evt.Type == models.EventRunStarted || evt.Type == models.EventRunFinished {
		b.sweepSuperseded(evt.FlowID, evt.RunID)
	}
}

// deliver sends evt to a subscriber's channel without blocking. Progress
// events are dropped under backpressure and coalesced into a single
// Dropped marker sent once space frees up; started/finished events always
// go through, per the ordering guarantees of spec.md §5.
func (b *Bus) deliver(s *subscriber, evt models.Event) {
	protected := evt.Type == models.EventNodeStarted || evt.Type == models.EventNodeFinished || evt.Type == models.EventRunFinished

	if !protected {
		select {
		case s.ch <- evt:
		default:
			s.dropped++
		}
		return
	}

	// Protected events must be delivered; flush a pending Dropped marker
	// first so ordering within the subscriber's own stream stays sane,
	// then block briefly rather than silently lose a terminal event.
	if s.dropped > 0 {
		marker := models.Event{Type: models.EventDropped, RunID: evt.RunID, FlowID: evt.FlowID, DroppedCount: s.dropped, Timestamp: evt.Timestamp}
		select {
		case s.ch <- marker:
			s.dropped = 0
		default:
		}
	}
	select {
	case s.ch <- evt:
	case <-time.After(5 * time.Second):
		if b.log != nil {
			b.log.Warn("eventbus: subscriber stalled on protected event, dropping", "run_id", evt.RunID, "type", evt.Type)
		}
	}
}

func (b *Bus) runLogFor(runID string, flowID int64) *runLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		rl = &runLog{flowID: flowID, subs: make(map[int]*subscriber)}
		b.runs[runID] = rl
		b.latest[flowID] = runID
	}
	return rl
}

// Subscribe returns a replay-from-start stream of runID's events plus an
// unsubscribe function. The channel has room for the whole replay plus
// bufferSize live events. Unsubscribing stops further deliveries but
// does not close the channel. Once the caller stops draining, progress
// events are dropped instead of blocking Publish; protected events wait
// up to 5s each (see deliver).
func (b *Bus) Subscribe(runID string) (<-chan models.Event, func(), bool) {
	b.mu.Lock()
	rl, ok := b.runs[runID]
	b.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	rl.mu.Lock()
	ch := make(chan models.Event, b.bufferSize+len(rl.events))
	for _, e := range rl.events {
		ch <- e
	}
	id := rl.nextSubID
	rl.nextSubID++
	rl.subs[id] = &subscriber{ch: ch}
	rl.mu.Unlock()

	unsub := func() {
		rl.mu.Lock()
		delete(rl.subs, id)
		rl.mu.Unlock()
	}
	return ch, unsub, true
}

// Replay returns the full ordered event log for runID without subscribing
// to live updates — what a long-polling GET turns into: "snapshot = latest
// replay" per spec.md §4.6.
func (b *Bus) Replay(runID string) ([]models.Event, bool) {
	b.mu.Lock()
	rl, ok := b.runs[runID]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]models.Event, len(rl.events))
	copy(out, rl.events)
	return out, true
}

// sweepSuperseded drops a flow's previous run's log once a newer run has
// started on that flow, per spec.md §4.6 ("until a new run starts... whichever
// comes first"). It also opportunistically evicts any run past its TTL.
func (b *Bus) sweepSuperseded(flowID int64, currentRunID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for id, rl := range b.runs {
		if id == currentRunID {
			continue
		}
		rl.mu.Lock()
		expired := rl.terminal && !rl.retainTill.IsZero() && now.After(rl.retainTill)
		superseded := rl.flowID == flowID && id != b.latest[flowID]
		rl.mu.Unlock()
		if expired || superseded {
			delete(b.runs, id)
		}
	}
}

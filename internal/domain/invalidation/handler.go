package invalidation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/policy-core/permissioncore/internal/domain/cache"
)

// foldHighWaterMark is the queue depth at which the handler starts folding
// consecutive ToolPermissionsChanged events into one before applying them,
// per spec §5 "queue depth over high-water-mark folds events".
const foldHighWaterMark = 64

// eventBudget bounds how long a single event's processing may take before
// the handler logs a warning and moves on (spec §5 "per-event wall-clock
// budget").
const eventBudget = 5 * time.Millisecond

// Handler is the single-threaded command handler that owns the permission
// cache: it is the only goroutine that mutates cache.Manager in response to
// invalidation events. Producers call Emit, which never blocks; subscribers
// register via Subscribe and receive Applied notifications best-effort.
type Handler struct {
	queue   *queue
	cacheMgr *cache.Manager
	logger  *slog.Logger

	subMu sync.Mutex
	subs  []chan Applied

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewHandler constructs a Handler bound to mgr. Call Run in its own
// goroutine to start processing; Emit is safe to call before Run starts
// (events simply queue).
func NewHandler(mgr *cache.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		queue:   newQueue(),
		cacheMgr: mgr,
		logger:  logger,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Emit enqueues an invalidation event. Never blocks the caller.
func (h *Handler) Emit(e Event) {
	h.queue.Push(e)
}

// Subscribe registers a best-effort observer channel: if it is full when an
// Applied notification is ready, the notification is dropped for that
// subscriber rather than blocking the handler (spec §5/§4.7).
func (h *Handler) Subscribe(buffer int) <-chan Applied {
	ch := make(chan Applied, buffer)
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subs = append(h.subs, ch)
	return ch
}

// QueueDepth reports the current backlog, for diagnostics and tests.
func (h *Handler) QueueDepth() int {
	return h.queue.Depth()
}

// Run processes events until Stop is called. Intended to run in its own
// goroutine for the lifetime of the process.
func (h *Handler) Run() {
	defer close(h.done)
	for {
		events, ok := h.queue.Drain()
		if !ok {
			return
		}
		for _, e := range fold(events) {
			h.applyOne(e)
		}
	}
}

// Stop drains the queue and joins Run (spec §5: "shutdown drains queue then
// joins sweeper").
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		h.queue.Close()
	})
	<-h.done
}

func (h *Handler) applyOne(e Event) {
	start := time.Now()

	switch ev := e.(type) {
	case UserPermissionsChanged:
		// Invalidate by the identity the entry was actually built under,
		// not a fingerprint recomputed from a bare UserID: Fingerprint also
		// hashes Roles and the other identifier, so a partial principal's
		// fingerprint will not match the real cached entry whenever those
		// are non-empty (the normal case).
		h.cacheMgr.InvalidateIdentity(ev.UserID, ev.ByAPIKey)
	case ToolPermissionsChanged, RoleDefinitionChanged, AllowlistRuleChanged:
		h.cacheMgr.InvalidateAll()
	case EmergencyCacheClear:
		h.cacheMgr.InvalidateAll()
	case TtlCleanup:
		for _, id := range ev.ExpiredUserIDs {
			h.cacheMgr.InvalidateIdentity(id, false)
		}
	}

	if elapsed := time.Since(start); elapsed > eventBudget {
		h.logger.Warn("invalidation event exceeded budget",
			"kind", e.eventKind(), "elapsed_ms", elapsed.Milliseconds())
	}

	h.broadcast(Applied{Event: e, Generation: h.cacheMgr.Generation(), AppliedAt: time.Now().UTC()})
}

func (h *Handler) broadcast(applied Applied) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- applied:
		default:
			// Best-effort: drop for slow subscribers rather than block the
			// single-threaded command handler.
		}
	}
}

// fold coalesces consecutive ToolPermissionsChanged events once the batch is
// large enough to have crossed the high-water mark, so a burst of tool
// changes applies as one cache-wide invalidation instead of many.
func fold(events []Event) []Event {
	if len(events) < foldHighWaterMark {
		return events
	}

	out := make([]Event, 0, len(events))
	var pendingToolChange bool
	for _, e := range events {
		if _, ok := e.(ToolPermissionsChanged); ok {
			pendingToolChange = true
			continue
		}
		if pendingToolChange {
			out = append(out, ToolPermissionsChanged{})
			pendingToolChange = false
		}
		out = append(out, e)
	}
	if pendingToolChange {
		out = append(out, ToolPermissionsChanged{})
	}
	return out
}

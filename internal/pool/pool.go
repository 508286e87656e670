// Package pool owns the set of reusable bot session handles, their
// assignment to phone numbers, and the recycling policy.
//
// All mutations go through one mutex. In the running gateway every call
// additionally arrives on the single runtime loop goroutine, so assign,
// release, and the inactivity sweep can never interleave partially, and no
// handle is ever invoked by two units of work at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evogatehq/evogate/internal/agent"
)

var (
	// ErrPoolExhausted is returned by Assign when the pool is at its
	// configured maximum. Backpressure, not a bug.
	ErrPoolExhausted = errors.New("pool: no bot instance available")

	// ErrShuttingDown is returned by Assign after CloseAll.
	ErrShuttingDown = errors.New("pool: shutting down")
)

// State is the lifecycle state of a handle.
type State string

const (
	StatePooled   State = "pooled"
	StateAssigned State = "assigned"
	StateClosing  State = "closing"
)

// Handle is one bot instance: a session capability plus assignment state.
// Getters take the pool mutex: the inactivity monitor mutates handles from
// its own goroutine.
type Handle struct {
	pool         *Pool
	key          string
	session      *agent.Session
	state        State
	phone        string
	active       bool
	busy         bool
	lastActivity time.Time
	pooledAt     time.Time
}

// Key returns the current pool key: a slot label like "A3" while pooled,
// the assigned phone number while assigned.
func (h *Handle) Key() string {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.key
}

// Phone returns the assigned phone, empty while pooled.
func (h *Handle) Phone() string {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.phone
}

// State returns the handle's lifecycle state.
func (h *Handle) State() State {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.state
}

// Session returns the session capability owned by this handle. The session
// is only safe to invoke while the handle is marked busy; see SetBusy.
func (h *Handle) Session() *agent.Session {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.session
}

// Active reports whether the bot should answer this chat. A human operator
// writing into the chat pauses the bot; "/start" reactivates it.
func (h *Handle) Active() bool {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.active
}

// LastActivity returns the last-activity timestamp.
func (h *Handle) LastActivity() time.Time {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.lastActivity
}

// Config sizes the pool.
type Config struct {
	// MinIdle is the idle-handle count the pool replenishes to.
	MinIdle int
	// MaxTotal caps total instances; 0 means unbounded.
	MaxTotal int
}

// Pool maps keys (slot labels or phones) to handles.
type Pool struct {
	mu      sync.Mutex
	invoker agent.Invoker
	cfg     Config
	handles map[string]*Handle
	counter int // mints slot labels A1, A2, ...
	closed  bool
	now     func() time.Time
}

// New creates a pool and eagerly fills it to MinIdle.
func New(ctx context.Context, invoker agent.Invoker, cfg Config) (*Pool, error) {
	p := &Pool{
		invoker: invoker,
		cfg:     cfg,
		handles: make(map[string]*Handle),
		now:     time.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.replenishLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Assign returns the handle for a phone, creating or reusing one as needed.
// Idempotent: a phone already assigned gets the same handle back with a
// refreshed activity stamp.
func (p *Pool) Assign(ctx context.Context, phone string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrShuttingDown
	}

	if h, ok := p.handles[phone]; ok {
		if h.state != StateAssigned {
			// A phone key must only ever point at an assigned handle.
			slog.Error("assignment conflict: phone key in unexpected state",
				"phone", phone, "state", h.state)
			h.state = StateAssigned
			h.phone = phone
		}
		h.lastActivity = p.now()
		return h, nil
	}

	h := p.popOldestIdleLocked()
	if h == nil {
		if p.cfg.MaxTotal > 0 && len(p.handles) >= p.cfg.MaxTotal {
			return nil, ErrPoolExhausted
		}
		created, err := p.newHandleLocked(ctx)
		if err != nil {
			return nil, err
		}
		h = created
	} else {
		// Recycled instance: clear leftover history before the new user
		// sees it.
		delete(p.handles, h.key)
		h.session.Reset()
	}

	h.key = phone
	h.phone = phone
	h.state = StateAssigned
	h.active = true
	h.lastActivity = p.now()
	p.handles[phone] = h

	slog.Info("bot assigned", "phone", phone, "idle", p.idleCountLocked(), "total", len(p.handles))

	if err := p.replenishLocked(ctx); err != nil {
		// The assignment itself succeeded; replenishment retries on the
		// next assign.
		slog.Warn("pool replenish failed", "error", err)
	}
	return h, nil
}

// Release returns a phone's handle to the pool, or closes it if enough idle
// handles already exist. Unknown phones are a no-op.
func (p *Pool) Release(ctx context.Context, phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(ctx, phone)
}

func (p *Pool) releaseLocked(ctx context.Context, phone string) {
	h, ok := p.handles[phone]
	if !ok || h.state != StateAssigned {
		return
	}

	if p.idleCountLocked() >= p.cfg.MinIdle {
		h.state = StateClosing
		delete(p.handles, phone)
		if err := p.invoker.CloseSession(ctx, h.session); err != nil {
			slog.Warn("error closing bot session", "key", h.key, "error", err)
		}
		slog.Info("bot closed", "phone", phone, "total", len(p.handles))
		return
	}

	// Recycle under a fresh slot label so the old phone key can never
	// route to this handle again.
	delete(p.handles, phone)
	h.session.Reset()
	h.key = p.mintLabelLocked()
	h.phone = ""
	h.state = StatePooled
	h.active = true
	h.busy = false
	h.pooledAt = p.now()
	h.lastActivity = h.pooledAt
	p.handles[h.key] = h

	slog.Info("bot recycled to pool", "phone", phone, "slot", h.key)
}

// SetBusy flags an assigned phone's handle as having an invocation in
// flight. The inactivity sweep never reclaims a busy handle, so a recycle
// cannot reset a session another goroutine is still appending to.
func (p *Pool) SetBusy(phone string, busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[phone]; ok && h.state == StateAssigned {
		h.busy = busy
	}
}

// SetActive toggles whether the bot answers an assigned phone.
// Returns false when the phone has no assigned handle.
func (p *Pool) SetActive(phone string, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[phone]
	if !ok || h.state != StateAssigned {
		return false
	}
	h.active = active
	return true
}

// Touch refreshes the last-activity stamp for an assigned phone.
func (p *Pool) Touch(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[phone]; ok && h.state == StateAssigned {
		h.lastActivity = p.now()
	}
}

// SweepInactive releases every assigned handle idle longer than timeout.
// Returns the phones released. Runs the exact release path under the same
// lock as Assign/Release.
func (p *Pool) SweepInactive(ctx context.Context, timeout time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	now := p.now()
	var expired []string
	for _, h := range p.handles {
		if h.state == StateAssigned && !h.busy && now.Sub(h.lastActivity) > timeout {
			expired = append(expired, h.phone)
		}
	}
	for _, phone := range expired {
		slog.Info("releasing inactive bot", "phone", phone, "timeout", timeout)
		p.releaseLocked(ctx, phone)
	}
	return expired
}

// CloseAll closes every handle and rejects subsequent assigns. Idempotent;
// per-handle close errors are logged and do not stop the others.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for key, h := range p.handles {
		if h.state == StateClosing {
			continue
		}
		h.state = StateClosing
		if err := p.invoker.CloseSession(ctx, h.session); err != nil {
			slog.Warn("error closing bot session", "key", key, "error", err)
		}
		delete(p.handles, key)
	}
	slog.Info("bot pool closed")
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Idle     int
	Assigned int
	Total    int
}

// Snapshot returns current pool occupancy.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.handles)}
	for _, h := range p.handles {
		switch h.state {
		case StatePooled:
			s.Idle++
		case StateAssigned:
			s.Assigned++
		}
	}
	return s
}

// --- internals (callers hold p.mu) ---

func (p *Pool) idleCountLocked() int {
	n := 0
	for _, h := range p.handles {
		if h.state == StatePooled {
			n++
		}
	}
	return n
}

// popOldestIdleLocked removes and returns the idle handle pooled longest ago,
// or nil. FIFO reuse spreads load evenly across instances.
func (p *Pool) popOldestIdleLocked() *Handle {
	var oldest *Handle
	for _, h := range p.handles {
		if h.state != StatePooled {
			continue
		}
		if oldest == nil || h.pooledAt.Before(oldest.pooledAt) {
			oldest = h
		}
	}
	return oldest
}

func (p *Pool) mintLabelLocked() string {
	p.counter++
	return fmt.Sprintf("A%d", p.counter)
}

func (p *Pool) newHandleLocked(ctx context.Context) (*Handle, error) {
	session, err := p.invoker.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create bot session: %w", err)
	}
	return &Handle{
		pool:     p,
		session:  session,
		state:    StatePooled,
		active:   true,
		pooledAt: p.now(),
	}, nil
}

// replenishLocked eagerly tops the idle set back up to MinIdle, respecting
// MaxTotal.
func (p *Pool) replenishLocked(ctx context.Context) error {
	for p.idleCountLocked() < p.cfg.MinIdle {
		if p.cfg.MaxTotal > 0 && len(p.handles) >= p.cfg.MaxTotal {
			return nil
		}
		h, err := p.newHandleLocked(ctx)
		if err != nil {
			return err
		}
		h.key = p.mintLabelLocked()
		h.lastActivity = h.pooledAt
		p.handles[h.key] = h
		slog.Debug("created pool bot", "slot", h.key)
	}
	return nil
}

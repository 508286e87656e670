// Package gateway bridges inbound WhatsApp events to the bot pool and back.
//
// The websocket read goroutine only parses events, submits units of work to
// the runtime loop, and waits — bounded — for the reply it needs to answer
// the sender. Everything that mutates shared state (pool, cache) or does
// slow I/O (session invocation, persistence) runs inside the loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/evogatehq/evogate/internal/agent"
	"github.com/evogatehq/evogate/internal/bus"
	"github.com/evogatehq/evogate/internal/cache"
	"github.com/evogatehq/evogate/internal/evolution"
	"github.com/evogatehq/evogate/internal/pool"
	"github.com/evogatehq/evogate/internal/runtime"
	"github.com/evogatehq/evogate/internal/store"
)

const (
	// FallbackReply is sent when no real reply could be produced in time.
	FallbackReply = "Sorry, I'm taking longer than usual. I'll get back to you shortly."
	// BusyReply is sent when the pool is at capacity or shutting down.
	BusyReply = "All our assistants are busy right now. Please try again in a few minutes."
	// ReactivatedReply confirms "/start" from the operator re-enabled the bot.
	ReactivatedReply = "Bot reactivated. How can I help you?"

	composingDelay = 3 * time.Second
)

// Dispatcher is the outbound WhatsApp surface the manager needs.
// *evolution.Client implements it.
type Dispatcher interface {
	SendText(ctx context.Context, phone, text string) error
	SendPresence(ctx context.Context, phone, presence string, delay time.Duration) error
	FetchProfile(ctx context.Context, phone string) (string, error)
}

// Config holds the manager's timing knobs.
type Config struct {
	// ResponseWait bounds how long HandleEvent blocks for a reply before
	// sending FallbackReply.
	ResponseWait time.Duration
	// ShutdownGrace bounds the drain of in-flight loop work on shutdown.
	ShutdownGrace time.Duration
}

// Manager wires the pool, loop, cache, store, and dispatcher together.
type Manager struct {
	loop       *runtime.Loop
	pool       *pool.Pool
	monitor    *pool.Monitor
	customers  *cache.Customers
	store      store.Store // nil disables persistence
	dispatcher Dispatcher
	invoker    agent.Invoker
	cfg        Config

	draining atomic.Bool
}

// New creates a gateway manager. store may be nil when persistence is not
// configured.
func New(loop *runtime.Loop, p *pool.Pool, monitor *pool.Monitor, customers *cache.Customers, st store.Store, dispatcher Dispatcher, invoker agent.Invoker, cfg Config) *Manager {
	return &Manager{
		loop:       loop,
		pool:       p,
		monitor:    monitor,
		customers:  customers,
		store:      st,
		dispatcher: dispatcher,
		invoker:    invoker,
		cfg:        cfg,
	}
}

// HandleEvent is the entry point for websocket events. It runs on the
// listener's read goroutine and must stay fast: parse, submit, wait.
func (m *Manager) HandleEvent(event evolution.Event) {
	msg, ok := event.ToInbound()
	if !ok {
		return
	}

	if msg.FromMe {
		m.handleOperatorMessage(msg)
		return
	}
	if msg.Content == "" {
		return
	}
	m.handleUserMessage(msg)
}

// handleOperatorMessage reacts to messages the human operator typed into a
// customer chat from the bot's own account: any text pauses the bot for that
// chat, "/start" hands the conversation back to the bot.
func (m *Manager) handleOperatorMessage(msg bus.InboundMessage) {
	_, err := m.loop.Submit(func(ctx context.Context) (any, error) {
		if strings.TrimSpace(msg.Content) == "/start" {
			if m.pool.SetActive(msg.Phone, true) {
				slog.Info("bot reactivated by operator", "phone", msg.Phone)
				if err := m.dispatcher.SendText(ctx, msg.Phone, ReactivatedReply); err != nil {
					slog.Warn("failed to send reactivation notice", "phone", msg.Phone, "error", err)
				}
			}
			return nil, nil
		}
		if m.pool.SetActive(msg.Phone, false) {
			slog.Info("bot paused, operator took over chat", "phone", msg.Phone)
		}
		return nil, nil
	})
	if err != nil {
		slog.Error("loop unavailable for operator command", "phone", msg.Phone, "error", err)
	}
}

// handleUserMessage submits the full unit of work for one inbound message
// and blocks up to ResponseWait for its completion. On timeout the user gets
// FallbackReply; the real reply, produced later by the still-running unit,
// is dispatched late rather than discarded.
func (m *Manager) handleUserMessage(msg bus.InboundMessage) {
	if m.draining.Load() {
		// Shutting down is backpressure, not silence: tell the user.
		slog.Warn("rejecting message during shutdown", "phone", msg.Phone)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.dispatcher.SendText(ctx, msg.Phone, BusyReply); err != nil {
			slog.Error("failed to send busy reply", "phone", msg.Phone, "error", err)
		}
		return
	}

	future, err := m.loop.Submit(func(ctx context.Context) (any, error) {
		return m.processUserMessage(ctx, msg)
	})
	if err != nil {
		// Loop dead: fatal for this message only.
		slog.Error("loop unavailable for inbound message", "phone", msg.Phone, "error", err)
		return
	}

	if _, err := future.Wait(m.cfg.ResponseWait); errors.Is(err, runtime.ErrWaitTimeout) {
		slog.Warn("reply not ready in time, sending fallback", "phone", msg.Phone, "wait", m.cfg.ResponseWait)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if sendErr := m.dispatcher.SendText(ctx, msg.Phone, FallbackReply); sendErr != nil {
			slog.Error("failed to send fallback reply", "phone", msg.Phone, "error", sendErr)
		}
	}
}

// processUserMessage runs inside the loop: assign a bot, invoke it, dispatch
// the reply, then queue persistence as its own best-effort unit.
func (m *Manager) processUserMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	handle, err := m.pool.Assign(ctx, msg.Phone)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) || errors.Is(err, pool.ErrShuttingDown) {
			slog.Warn("no bot available", "phone", msg.Phone, "reason", err)
			if sendErr := m.dispatcher.SendText(ctx, msg.Phone, BusyReply); sendErr != nil {
				slog.Error("failed to send busy reply", "phone", msg.Phone, "error", sendErr)
			}
			return "", err
		}
		return "", fmt.Errorf("assign bot for %s: %w", msg.Phone, err)
	}

	if !handle.Active() {
		// Operator owns this chat; stay quiet.
		slog.Debug("bot paused for chat, ignoring message", "phone", msg.Phone)
		return "", nil
	}

	// Show "typing..." while the model works. Cosmetic, failure is fine.
	if err := m.dispatcher.SendPresence(ctx, msg.Phone, "composing", composingDelay); err != nil {
		slog.Debug("failed to send composing presence", "phone", msg.Phone, "error", err)
	}

	slog.Info("responding to message", "phone", msg.Phone, "message_id", msg.MessageID)

	// Busy handles are skipped by the inactivity sweep, so a slow invocation
	// can never be recycled out from under us.
	m.pool.SetBusy(msg.Phone, true)
	reply, err := m.invoker.Invoke(ctx, handle.Session(), msg.Content)
	m.pool.SetBusy(msg.Phone, false)
	if err != nil {
		slog.Error("bot invocation failed", "phone", msg.Phone, "error", err)
		if sendErr := m.dispatcher.SendText(ctx, msg.Phone, FallbackReply); sendErr != nil {
			slog.Error("failed to send error fallback", "phone", msg.Phone, "error", sendErr)
		}
		return "", err
	}
	m.pool.Touch(msg.Phone)

	if err := m.dispatcher.SendText(ctx, msg.Phone, reply); err != nil {
		slog.Error("failed to dispatch reply", "phone", msg.Phone, "error", err)
	}

	// Persistence is fire-and-forget: it queues behind this unit and its
	// failures never reach the user. TrySubmit, not Submit — this code runs
	// on the loop goroutine, and a blocking send into the loop's own full
	// queue would deadlock the process. A full queue drops the write.
	if m.store != nil {
		if _, err := m.loop.TrySubmit(func(ctx context.Context) (any, error) {
			m.persistExchange(ctx, msg, reply)
			return nil, nil
		}); err != nil {
			slog.Warn("dropping history write, persistence could not be queued", "phone", msg.Phone, "error", err)
		}
	}

	return reply, nil
}

// persistExchange saves the user message and the bot reply, creating the
// customer row on first contact. Best-effort: every failure is logged and
// swallowed.
func (m *Manager) persistExchange(ctx context.Context, msg bus.InboundMessage, reply string) {
	customer, err := m.resolveCustomer(ctx, msg)
	if err != nil {
		slog.Warn("could not resolve customer, skipping persistence", "phone", msg.Phone, "error", err)
		return
	}

	save := func(content string, fromBot bool) {
		err := m.store.SaveMessage(ctx, store.HistoryEntry{
			CustomerID: customer.ID,
			Message:    store.NewMessagePayload(content, fromBot),
		})
		if err != nil {
			slog.Warn("failed to save message", "customer", customer.ID, "from_bot", fromBot, "error", err)
		}
	}
	save(msg.Content, false)
	save(reply, true)

	slog.Debug("conversation persisted", "customer", customer.ID, "phone", msg.Phone)
}

// resolveCustomer returns the customer for a phone, going cache → store →
// create, and refreshes the cache on the way out.
func (m *Manager) resolveCustomer(ctx context.Context, msg bus.InboundMessage) (store.Customer, error) {
	if customer, ok := m.customers.Get(msg.Phone); ok {
		return customer, nil
	}

	customer, found, err := m.store.GetCustomer(ctx, msg.Phone)
	if err != nil {
		return store.Customer{}, err
	}
	if !found {
		username := msg.PushName
		if username == "" {
			if name, perr := m.dispatcher.FetchProfile(ctx, msg.Phone); perr == nil {
				username = name
			} else {
				slog.Debug("profile lookup failed", "phone", msg.Phone, "error", perr)
			}
		}
		customer, err = m.store.CreateCustomer(ctx, msg.Phone, username)
		if err != nil {
			return store.Customer{}, err
		}
		slog.Info("customer created", "phone", msg.Phone, "customer", customer.ID)
	}

	m.customers.Put(msg.Phone, customer)
	return customer, nil
}

// Shutdown drains and tears everything down: stop accepting work, wait up to
// the grace period for in-flight units, close every bot, stop the loop.
// Partial failures are logged and never abort the remaining steps.
func (m *Manager) Shutdown(ctx context.Context) {
	slog.Info("gateway shutdown initiated")
	m.draining.Store(true)

	if m.monitor != nil {
		m.monitor.Stop()
	}

	if !m.loop.Drain(m.cfg.ShutdownGrace) {
		slog.Warn("in-flight work did not drain in time", "grace", m.cfg.ShutdownGrace)
	}

	m.pool.CloseAll(ctx)
	m.loop.Stop()

	slog.Info("gateway shutdown complete")
}

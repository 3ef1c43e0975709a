// internal/session/orchestrator.go
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/chain"
	"github.com/arturshev/solana-volume-bot/internal/config"
	"github.com/arturshev/solana-volume-bot/internal/events"
	"github.com/arturshev/solana-volume-bot/internal/ledger"
	"github.com/arturshev/solana-volume-bot/internal/market"
	"github.com/arturshev/solana-volume-bot/internal/metrics"
	"github.com/arturshev/solana-volume-bot/internal/storage"
	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/wallet"
)

// handle is the runtime side of a session: the live goroutine running its
// loop. Everything durable lives in the store; a handle only carries the
// control channels.
type handle struct {
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newHandle(cancel context.CancelFunc) *handle {
	return &handle{
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (h *handle) requestStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *handle) stopRequested() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

func (h *handle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Orchestrator owns every session: creation, the funding and trading loops,
// stop requests, status queries and crash recovery.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.Store
	wallets   *wallet.Manager
	splits    *ledger.SplitLedger
	chain     chain.Client
	provider  market.Provider
	validator market.Validator
	bus       *events.Bus
	logger    *zap.Logger

	tradeFloor   decimal.Decimal
	tradeCeiling decimal.Decimal

	// rng yields the per-trade fraction jitter in [0,1). It is called from
	// every session goroutine, so it must be safe for concurrent use; tests
	// swap it for a deterministic source.
	rng func() float64

	mu      sync.Mutex
	handles map[string]*handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. Call Start to recover persisted
// sessions and begin the self-healing sweep.
func NewOrchestrator(
	cfg *config.Config,
	store storage.Store,
	wallets *wallet.Manager,
	splits *ledger.SplitLedger,
	chainClient chain.Client,
	provider market.Provider,
	validator market.Validator,
	bus *events.Bus,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:          cfg,
		store:        store,
		wallets:      wallets,
		splits:       splits,
		chain:        chainClient,
		provider:     provider,
		validator:    validator,
		bus:          bus,
		logger:       logger.Named("orchestrator"),
		tradeFloor:   decimal.NewFromFloat(cfg.PerTradeFloorSol),
		tradeCeiling: decimal.NewFromFloat(cfg.TradeCeilingSol),
		rng:          rand.Float64,
		handles:      make(map[string]*handle),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start recovers every persisted non-terminal session and launches the
// periodic sweep that restarts dead loops and purges old terminal records.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.RecoverAll(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	o.wg.Add(1)
	go o.runSweep()
	return nil
}

// CreateSession validates the asset has a tradeable market, issues a deposit
// wallet and starts monitoring for funding. An asset with no route fails
// here; no session record is created for it.
func (o *Orchestrator) CreateSession(ctx context.Context, targetAsset string) (*Snapshot, error) {
	if targetAsset == "" {
		return nil, errors.New("target asset is required")
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	marketID, err := o.validator.FindBestMarket(vctx, targetAsset)
	cancel()
	if err != nil {
		if errors.Is(err, market.ErrNoRoute) {
			return nil, fmt.Errorf("asset %s is not tradeable: %w", targetAsset, err)
		}
		return nil, fmt.Errorf("market validation failed: %w", err)
	}

	id := uuid.New().String()
	rec, err := o.wallets.IssueSessionWallet(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session wallet: %w", err)
	}
	if err := o.store.SaveWalletRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist wallet record: %w", err)
	}

	sess := newSession(id, targetAsset, marketID, rec.Address)
	if err := o.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	o.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("target_asset", targetAsset),
		zap.String("market", marketID),
		zap.String("deposit_address", rec.Address))

	metrics.SessionsActive.Inc()
	o.publish(events.NewSessionEvent(events.SessionCreated,
		id, targetAsset, rec.Address, string(sess.State), ""))

	// Snapshot before launch: the loop goroutine owns the struct once started.
	snap := snapshotOf(sess, true)
	o.launch(sess)
	return snap, nil
}

// StopSession asks a session's loop to stop at the next safe boundary. A
// session whose loop is not running is transitioned directly.
func (o *Orchestrator) StopSession(ctx context.Context, id string) error {
	o.mu.Lock()
	h, ok := o.handles[id]
	o.mu.Unlock()

	if ok && h.alive() {
		h.requestStop()
		return nil
	}

	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if sess.State.IsTerminal() {
		return nil
	}
	return o.transition(ctx, sess, models.StateStopped, "stopped by operator")
}

// GetSessionStatus returns the persisted view of a session plus whether its
// loop is currently running.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, id string) (*Snapshot, error) {
	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return snapshotOf(sess, o.loopAlive(id)), nil
}

// ListActiveSessions returns a snapshot of every non-terminal session.
func (o *Orchestrator) ListActiveSessions(ctx context.Context) ([]*Snapshot, error) {
	sessions, err := o.store.ListNonTerminalSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, snapshotOf(sess, o.loopAlive(sess.ID)))
	}
	return out, nil
}

// ListTrades returns the append-only trade history for a session.
func (o *Orchestrator) ListTrades(ctx context.Context, id string) ([]*models.Trade, error) {
	if _, err := o.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return o.store.ListTrades(ctx, id)
}

func (o *Orchestrator) loopAlive(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	return ok && h.alive()
}

// launch starts the session loop goroutine unless one is already running.
func (o *Orchestrator) launch(sess *models.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if h, ok := o.handles[sess.ID]; ok && h.alive() {
		return
	}

	hctx, cancel := context.WithCancel(o.ctx)
	h := newHandle(cancel)
	o.handles[sess.ID] = h

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		defer cancel()
		o.runSession(hctx, h, sess)
	}()
}

// transition validates the state change, persists it and publishes the
// corresponding lifecycle event.
func (o *Orchestrator) transition(ctx context.Context, sess *models.Session, to models.State, reason string) error {
	if !canTransition(sess.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.State, to)
	}

	from := sess.State
	sess.State = to
	sess.LastActivityAt = time.Now().UTC()
	if reason != "" && (to == models.StateFailed || to == models.StateStopped) {
		sess.FailureReason = reason
	}
	if to.IsTerminal() {
		now := time.Now().UTC()
		sess.CompletedAt = &now
	}

	if err := o.store.SaveSession(ctx, sess); err != nil {
		sess.State = from
		return fmt.Errorf("failed to persist transition %s -> %s: %w", from, to, err)
	}

	o.logger.Info("Session state changed",
		zap.String("session_id", sess.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	if to.IsTerminal() {
		metrics.SessionsActive.Dec()
		metrics.SessionsTotal.WithLabelValues(string(to)).Inc()
	}

	if typ, ok := lifecycleEvent(to); ok {
		o.publish(events.NewSessionEvent(typ,
			sess.ID, sess.TargetAsset, sess.WalletAddress, string(to), reason))
	}
	return nil
}

func lifecycleEvent(state models.State) (events.EventType, bool) {
	switch state {
	case models.StateFunded:
		return events.SessionFunded, true
	case models.StateDepleted:
		return events.SessionDepleted, true
	case models.StateStopped:
		return events.SessionStopped, true
	case models.StateFailed:
		return events.SessionFailed, true
	default:
		return "", false
	}
}

func (o *Orchestrator) publish(event events.Event) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(event); err != nil {
		o.logger.Debug("Event dropped", zap.Error(err))
	}
}

// Shutdown cancels every session loop and waits for them to drain. Running
// sessions keep their persisted state and resume on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("Shutting down orchestrator")
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("Orchestrator shutdown timeout")
		return ctx.Err()
	}
}

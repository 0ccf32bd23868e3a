package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matchcall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const sweepLockKey = "callsweep:leader"

// SweepStuck reconciles sessions that have sat in a non-terminal status past
// the cutoff, usually because a provider callback was lost. Each session is
// polled and applied independently so one bad session does not block the
// rest. Returns the number of sessions moved to a terminal status.
func (s *Service) SweepStuck(ctx context.Context, stuckAfter time.Duration, limit int) (int, error) {
	cutoff := s.clock().UTC().Add(-stuckAfter)
	stuck, err := s.repo.StuckSessions(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, sess := range stuck {
		ok, err := s.reconcileOne(ctx, sess.ID, sess.ProviderRef)
		if err != nil {
			s.metrics.SweepFailures.Inc()
			s.log.Error("reconcile failed", "session_id", sess.ID, "err", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		s.metrics.SweepRecovered.Add(float64(recovered))
	}
	return recovered, nil
}

// reconcileOne polls the provider outside the transaction, then re-reads the
// session under lock and applies the outcome. The re-read matters: a webhook
// can land between the poll and the apply, and the terminal check inside
// applyOutcome then makes this a no-op instead of a double settlement.
func (s *Service) reconcileOne(ctx context.Context, sessionID, providerRef string) (bool, error) {
	if providerRef == "" {
		// Initiation crashed before the provider ref was persisted; this
		// session can never receive a callback. Fail it directly.
		failed := false
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			sess, ok, err := s.repo.SessionByID(ctx, sessionID)
			if err != nil || !ok {
				return err
			}
			wasTerminal := sess.Status.Terminal()
			if err := s.applyOutcome(ctx, &sess, outcome{status: StatusFailed, known: true}); err != nil {
				return err
			}
			failed = !wasTerminal && sess.Status.Terminal()
			return nil
		})
		return failed, err
	}

	details, err := s.gateway.CallStatus(ctx, providerRef)
	if err != nil {
		return false, err
	}
	o := outcomeFromDetails(details)

	moved := false
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		sess, ok, err := s.repo.SessionByProviderRef(ctx, providerRef)
		if err != nil || !ok {
			return err
		}
		wasTerminal := sess.Status.Terminal()
		if err := s.applyOutcome(ctx, &sess, o); err != nil {
			return err
		}
		moved = !wasTerminal && sess.Status.Terminal()
		return nil
	})
	return moved, err
}

// Sweeper runs SweepStuck on a fixed interval in a supervised goroutine.
// When a Redis client is provided, a leader lock keeps one instance per
// deployment sweeping; without Redis every instance sweeps, which is safe
// but redundant since applyOutcome tolerates concurrent terminal flips.
type Sweeper struct {
	svc        *Service
	rdb        *redis.Client
	interval   time.Duration
	stuckAfter time.Duration
	batchLimit int
	log        *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewSweeper(svc *Service, rdb *redis.Client, interval, stuckAfter time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		svc:        svc,
		rdb:        rdb,
		interval:   interval,
		stuckAfter: stuckAfter,
		batchLimit: 100,
		log:        log,
	}
}

func (w *Sweeper) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	w.log.Info("sweeper started", "interval", w.interval, "stuck_after", w.stuckAfter)
}

// Stop signals the loop and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("sweeper stopped")
}

func (w *Sweeper) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	if w.rdb != nil {
		held, token, err := utils.AcquireLeaderLock(ctx, w.rdb, sweepLockKey, w.interval)
		if err != nil {
			w.log.Warn("sweep leader lock unavailable, proceeding", "err", err)
		} else if !held {
			return
		} else {
			defer func() {
				if err := utils.ReleaseLeaderLock(ctx, w.rdb, sweepLockKey, token); err != nil {
					w.log.Warn("release sweep leader lock", "err", err)
				}
			}()
		}
	}

	w.svc.metrics.SweepsTotal.Inc()
	recovered, err := w.svc.SweepStuck(ctx, w.stuckAfter, w.batchLimit)
	if err != nil {
		w.log.Error("sweep pass failed", "err", err)
		return
	}
	if recovered > 0 {
		w.log.Info("sweep recovered stuck sessions", "count", recovered)
	}
}

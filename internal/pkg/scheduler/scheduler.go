package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/internal/pkg/cache"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/env"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/payouts"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/recon"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/subscriptions"
)

const defaultBatchLimit = 200

// Manager runs the periodic ledger jobs: the reconciliation sweep, the
// manual-renewal sweep, payout batches and the failed-payout retry. Every
// job body is idempotent, so a missed or doubled tick is harmless; a Redis
// lock still skips overlapping ticks across instances.
type Manager struct {
	orchestrator *recon.Orchestrator
	subs         *subscriptions.Service
	payouts      *payouts.Service

	instanceID      string
	sweepTicker     *time.Ticker
	renewalTicker   *time.Ticker
	thresholdTicker *time.Ticker
	frequencyTicker *time.Ticker
	retryTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global scheduler (singleton). Setup must be called
// once with a DB handle before Start.
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			instanceID: uuid.NewString(),
			stopCh:     make(chan struct{}),
		}
	})
	return globalManager
}

// Setup wires the scheduler against the database.
func (m *Manager) Setup(db *gorm.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orchestrator = recon.NewOrchestratorFromDB(db)
	m.subs = subscriptions.NewServiceFromDB(db)
	m.payouts = payouts.NewServiceFromDB(db)
}

// Start starts the background tickers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if m.orchestrator == nil {
		log.Error("[Scheduler] Start called before Setup, refusing to run")
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background ledger jobs")

	m.sweepTicker = time.NewTicker(envMinutes("RECON_SWEEP_INTERVAL_MINUTES", 15))
	m.renewalTicker = time.NewTicker(envMinutes("RENEWAL_SWEEP_INTERVAL_MINUTES", 60))
	m.thresholdTicker = time.NewTicker(envMinutes("PAYOUT_THRESHOLD_INTERVAL_MINUTES", 60))
	m.frequencyTicker = time.NewTicker(24 * time.Hour)
	m.retryTicker = time.NewTicker(envMinutes("PAYOUT_RETRY_INTERVAL_MINUTES", 30))

	m.wg.Add(5)
	go m.worker("recon-sweep", m.sweepTicker, m.runSweep)
	go m.worker("renewal-sweep", m.renewalTicker, m.runRenewalSweep)
	go m.worker("payout-threshold", m.thresholdTicker, m.runThresholdBatch)
	go m.worker("payout-frequency", m.frequencyTicker, m.runFrequencyBatches)
	go m.worker("payout-retry", m.retryTicker, m.runRetryBatch)

	log.Info("[Scheduler] Started successfully")
}

// Stop stops all tickers and waits for running jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Scheduler] Stopping background ledger jobs...")

	for _, t := range []*time.Ticker{m.sweepTicker, m.renewalTicker, m.thresholdTicker, m.frequencyTicker, m.retryTicker} {
		if t != nil {
			t.Stop()
		}
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(name string, ticker *time.Ticker, job func(context.Context) error) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Infof("[Scheduler] %s worker stopping", name)
			return
		case <-ticker.C:
			if !m.acquireLock(name) {
				log.Debugf("[Scheduler] %s tick skipped, lock held elsewhere", name)
				continue
			}
			if err := job(context.Background()); err != nil {
				log.Errorf("[Scheduler] %s job error: %v", name, err)
			}
		}
	}
}

// acquireLock takes a short Redis lock per job so two instances do not run
// the same tick. The lock value is this instance's ID, which makes the
// holder visible in Redis. Lock errors fall through to running the job:
// every job is idempotent, the lock is only an optimization.
func (m *Manager) acquireLock(name string) bool {
	ok, err := cache.SetNX("scheduler:lock:"+name, m.instanceID, time.Minute)
	if err != nil {
		return true
	}
	return ok
}

func (m *Manager) runSweep(ctx context.Context) error {
	_, err := m.orchestrator.Sweep(ctx, defaultBatchLimit, false)
	return err
}

func (m *Manager) runRenewalSweep(ctx context.Context) error {
	_, err := m.subs.RunManualRenewalSweep(ctx, time.Now(), defaultBatchLimit, false)
	return err
}

func (m *Manager) runThresholdBatch(ctx context.Context) error {
	_, err := m.payouts.ProcessPendingPayouts(ctx, payouts.ModeThreshold, defaultBatchLimit)
	return err
}

// runFrequencyBatches runs the daily batch every tick and the weekly and
// monthly batches on their calendar boundaries.
func (m *Manager) runFrequencyBatches(ctx context.Context) error {
	if _, err := m.payouts.ProcessPendingPayouts(ctx, payouts.ModeDaily, defaultBatchLimit); err != nil {
		return err
	}
	now := time.Now().UTC()
	if now.Weekday() == time.Monday {
		if _, err := m.payouts.ProcessPendingPayouts(ctx, payouts.ModeWeekly, defaultBatchLimit); err != nil {
			return err
		}
	}
	if now.Day() == 1 {
		if _, err := m.payouts.ProcessPendingPayouts(ctx, payouts.ModeMonthly, defaultBatchLimit); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) runRetryBatch(ctx context.Context) error {
	_, err := m.payouts.RetryFailedPayouts(ctx, defaultBatchLimit)
	return err
}

func envMinutes(key string, fallback int) time.Duration {
	if raw := env.GetEnv(key, ""); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return time.Duration(v) * time.Minute
		}
	}
	return time.Duration(fallback) * time.Minute
}

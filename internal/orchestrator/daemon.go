package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"councild/internal/config"
	"councild/internal/models"
	"councild/internal/repository"
)

// DaemonStore is the persistence slice the daemon needs.
type DaemonStore interface {
	ListSchedulableCouncils(ctx context.Context) ([]models.Council, error)
	ListRuns(ctx context.Context, params repository.ListRunsParams) ([]models.CouncilRun, error)
	FailStaleRuns(ctx context.Context, before time.Time, reason string) (int64, error)
	GetDaemonMarker(ctx context.Context) (*models.DaemonMarker, error)
	ReplaceDaemonMarker(ctx context.Context, item *models.DaemonMarker) error
	TouchDaemonMarker(ctx context.Context, instanceID string, at time.Time) error
	DeleteDaemonMarker(ctx context.Context, instanceID string) error
}

// CouncilStatus is one entry of the daemon status report.
type CouncilStatus struct {
	CouncilID   uint64     `json:"council_id"`
	Name        string     `json:"name"`
	NextFireAt  time.Time  `json:"next_fire_at"`
	LastRunUID  string     `json:"last_run_uid,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
}

// StatusReport answers the operator status query.
type StatusReport struct {
	Running    bool            `json:"running"`
	InstanceID string          `json:"instance_id"`
	StartedAt  time.Time       `json:"started_at"`
	Councils   []CouncilStatus `json:"councils"`
}

// Daemon owns the scheduling loop: a next-fire registry ticked every second,
// external event triggers with a debounce window, and graceful shutdown that
// lets in-flight cycles finish within a grace timeout.
type Daemon struct {
	Repo        DaemonStore
	Coordinator *Coordinator
	Logger      *zap.Logger
	Cfg         config.SchedulerConfig

	instanceID string
	startedAt  time.Time

	mu          sync.Mutex
	running     bool
	nextFire    map[uint64]time.Time
	lastTrigger map[uint64]time.Time

	inflight sync.WaitGroup

	// cycleCtx outlives Run's ctx so that stopping the loop does not cancel
	// in-flight cycles; shutdown cancels it only once the grace timer fires.
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
}

func NewDaemon(repo DaemonStore, coordinator *Coordinator, logger *zap.Logger, cfg config.SchedulerConfig) *Daemon {
	cycleCtx, cycleCancel := context.WithCancel(context.Background())
	return &Daemon{
		Repo:        repo,
		Coordinator: coordinator,
		Logger:      logger,
		Cfg:         cfg,
		instanceID:  uuid.NewString(),
		nextFire:    map[uint64]time.Time{},
		lastTrigger: map[uint64]time.Time{},
		cycleCtx:    cycleCtx,
		cycleCancel: cycleCancel,
	}
}

func (d *Daemon) InstanceID() string { return d.instanceID }

func (d *Daemon) tickInterval() time.Duration {
	if d.Cfg.TickInterval > 0 {
		return d.Cfg.TickInterval
	}
	return time.Second
}

func (d *Daemon) graceTimeout() time.Duration {
	if d.Cfg.GraceTimeout > 0 {
		return d.Cfg.GraceTimeout
	}
	return 30 * time.Second
}

func (d *Daemon) minTriggerInterval() time.Duration {
	if d.Cfg.MinTriggerInterval > 0 {
		return d.Cfg.MinTriggerInterval
	}
	return 30 * time.Minute
}

// Run drives the scheduling loop until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now().UTC()
	if err := d.installMarker(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	if d.Logger != nil {
		d.Logger.Info("daemon started",
			zap.String("instance", d.instanceID),
			zap.Duration("tick", d.tickInterval()))
	}

	ticker := time.NewTicker(d.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// installMarker writes this instance's lifecycle marker, clearing a stale
// one left by a dead process.
func (d *Daemon) installMarker(ctx context.Context) error {
	marker, err := d.Repo.GetDaemonMarker(ctx)
	if err != nil {
		return err
	}
	if marker != nil && marker.InstanceID != d.instanceID {
		staleAfter := d.Cfg.MarkerStaleAfter
		if staleAfter <= 0 {
			staleAfter = 2 * time.Minute
		}
		age := time.Since(marker.HeartbeatAt)
		if age < staleAfter {
			if d.Logger != nil {
				d.Logger.Warn("replacing live-looking daemon marker",
					zap.String("previous", marker.InstanceID),
					zap.Duration("heartbeat_age", age))
			}
		} else if d.Logger != nil {
			d.Logger.Info("clearing stale daemon marker",
				zap.String("previous", marker.InstanceID),
				zap.Duration("heartbeat_age", age))
		}
		// Runs left in progress by the dead process will never complete.
		if n, err := d.Repo.FailStaleRuns(ctx, time.Now().UTC(), "daemon restarted mid-run"); err == nil && n > 0 && d.Logger != nil {
			d.Logger.Warn("failed orphaned runs", zap.Int64("count", n))
		}
	}

	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	return d.Repo.ReplaceDaemonMarker(ctx, &models.DaemonMarker{
		InstanceID:  d.instanceID,
		Hostname:    hostname,
		PID:         os.Getpid(),
		StartedAt:   now,
		HeartbeatAt: now,
	})
}

func (d *Daemon) shutdown() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if d.Logger != nil {
		d.Logger.Info("daemon stopping, waiting for in-flight cycles",
			zap.Duration("grace", d.graceTimeout()))
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		if d.Logger != nil {
			d.Logger.Info("all cycles finished")
		}
	case <-time.After(d.graceTimeout()):
		if d.Logger != nil {
			d.Logger.Warn("grace timeout elapsed, cancelling remaining cycles")
		}
		d.cycleCancel()
		<-done
	}
	d.cycleCancel()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Repo.DeleteDaemonMarker(cleanupCtx, d.instanceID); err != nil && d.Logger != nil {
		d.Logger.Warn("marker cleanup failed", zap.Error(err))
	}
	return context.Canceled
}

func (d *Daemon) tick(ctx context.Context) {
	councils, err := d.Repo.ListSchedulableCouncils(ctx)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("listing councils failed", zap.Error(err))
		}
		return
	}

	now := time.Now().UTC()
	for _, council := range councils {
		if !d.managed(council.ID) {
			continue
		}
		interval := time.Duration(council.ScheduleIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Duration(d.Cfg.DefaultIntervalSeconds) * time.Second
		}

		d.mu.Lock()
		next, ok := d.nextFire[council.ID]
		if !ok {
			next = now.Add(interval)
			d.nextFire[council.ID] = next
		}
		due := !now.Before(next)
		if due {
			// Advance before firing so a failing cycle cannot tight-loop.
			d.nextFire[council.ID] = now.Add(interval)
		}
		d.mu.Unlock()

		if due {
			d.fire(council.ID, "schedule")
		}
	}
}

// managed reports whether this daemon schedules the council; an empty
// configured subset means all councils.
func (d *Daemon) managed(councilID uint64) bool {
	if len(d.Cfg.CouncilIDs) == 0 {
		return true
	}
	for _, id := range d.Cfg.CouncilIDs {
		if id == councilID {
			return true
		}
	}
	return false
}

func (d *Daemon) fire(councilID uint64, trigger string) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil && d.Logger != nil {
				d.Logger.Error("cycle panicked",
					zap.Uint64("council_id", councilID),
					zap.Any("panic", r))
			}
		}()

		_, err := d.Coordinator.RunCycle(d.cycleCtx, councilID, d.Cfg.SymbolsOverride, trigger, d.Cfg.TestMode)
		switch {
		case err == nil:
		case err == ErrCycleInProgress:
			// Already logged by the coordinator; the fire is dropped.
		default:
			if d.Logger != nil {
				d.Logger.Warn("cycle failed",
					zap.Uint64("council_id", councilID),
					zap.String("trigger", trigger),
					zap.Error(err))
			}
		}
	}()
}

// TriggerEvent fires an out-of-schedule cycle for the council, debounced by
// the minimum trigger interval.
func (d *Daemon) TriggerEvent(ctx context.Context, councilID uint64, reason string) bool {
	if !d.Cfg.EnableEventTriggers {
		return false
	}
	now := time.Now().UTC()
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return false
	}
	if last, ok := d.lastTrigger[councilID]; ok && now.Sub(last) < d.minTriggerInterval() {
		d.mu.Unlock()
		return false
	}
	d.lastTrigger[councilID] = now
	d.mu.Unlock()

	if d.Logger != nil {
		d.Logger.Info("event trigger fired",
			zap.Uint64("council_id", councilID),
			zap.String("reason", reason))
	}
	d.fire(councilID, "event")
	return true
}

// Heartbeat refreshes the lifecycle marker; wired as a cron job.
func (d *Daemon) Heartbeat(ctx context.Context) error {
	return d.Repo.TouchDaemonMarker(ctx, d.instanceID, time.Now().UTC())
}

// Status reports the scheduling registry and most recent run per council.
func (d *Daemon) Status(ctx context.Context) StatusReport {
	d.mu.Lock()
	report := StatusReport{
		Running:    d.running,
		InstanceID: d.instanceID,
		StartedAt:  d.startedAt,
	}
	fires := make(map[uint64]time.Time, len(d.nextFire))
	for id, at := range d.nextFire {
		fires[id] = at
	}
	d.mu.Unlock()

	councils, err := d.Repo.ListSchedulableCouncils(ctx)
	if err != nil {
		return report
	}
	for _, council := range councils {
		if !d.managed(council.ID) {
			continue
		}
		entry := CouncilStatus{
			CouncilID:  council.ID,
			Name:       council.Name,
			NextFireAt: fires[council.ID],
		}
		id := council.ID
		runs, err := d.Repo.ListRuns(ctx, repository.ListRunsParams{CouncilID: &id, Limit: 1})
		if err == nil && len(runs) > 0 {
			entry.LastRunUID = runs[0].UID
			entry.LastOutcome = runs[0].Status
			entry.LastRunAt = &runs[0].StartedAt
		}
		report.Councils = append(report.Councils, entry)
	}
	return report
}

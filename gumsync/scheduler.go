package gumsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/gumroad"
	"github.com/sinanisler/gumroad-api/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler owns the reconciliation timer. Exactly one pass runs at a time;
// a tick (or manual trigger) arriving while a pass is in flight is dropped.
// The backends may be attached after construction (the HTTP server starts
// serving before the database is connected), so access goes through a mutex.
type Scheduler struct {
	Logger *logrus.Logger

	// NewSource builds the event source for a pass; overridable in tests.
	NewSource func(accessToken string) (EventSource, error)

	mu       sync.Mutex
	db       *gorm.DB
	identity IdentityStore
	notifier Notifier

	busy int32
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger, identity IdentityStore, notifier Notifier) *Scheduler {
	return &Scheduler{
		Logger:   logger,
		db:       db,
		identity: identity,
		notifier: notifier,
		NewSource: func(accessToken string) (EventSource, error) {
			return gumroad.NewClient(accessToken)
		},
	}
}

// Attach sets the backends once they are available. Until then every trigger
// is dropped.
func (s *Scheduler) Attach(db *gorm.DB, identity IdentityStore, notifier Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	s.identity = identity
	s.notifier = notifier
}

func (s *Scheduler) backends() (*gorm.DB, IdentityStore, Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db, s.identity, s.notifier
}

// Run loops until the context is cancelled, re-reading the configured
// interval after every pass so settings changes take effect on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.TriggerPass(ctx)

		interval := DefaultSettings().SyncInterval
		if db, _, _ := s.backends(); db != nil {
			if conn, err := models.GetGumroadConnection(ctx, db); err == nil && conn != nil {
				interval = DecodeSettings(conn.SettingsJSON).SyncInterval
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(interval) * time.Second):
		}
	}
}

// TriggerPass runs one pass unless another is already in flight, in which
// case the trigger is dropped. Returns whether a pass actually ran.
func (s *Scheduler) TriggerPass(ctx context.Context) bool {
	db, identity, notifier := s.backends()
	if db == nil {
		return false
	}
	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		return false
	}
	defer atomic.StoreInt32(&s.busy, 0)

	// When redis is configured, also guard against a second replica.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "gumroad-sync-pass", 10*time.Minute, nil)
		if err != nil {
			if !errors.Is(err, redislock.ErrNotObtained) {
				s.Logger.WithContext(ctx).WithError(err).Warn("pass lock error")
			}
			return false
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	s.runPass(ctx, db, identity, notifier)
	return true
}

func (s *Scheduler) runPass(ctx context.Context, db *gorm.DB, identity IdentityStore, notifier Notifier) {
	conn, err := models.GetGumroadConnection(ctx, db)
	if err != nil {
		config.LogError(s.Logger, "gumsync", "runPass", "connection load failed", nil, err)
		return
	}
	if conn == nil || conn.Status != models.ConnectionStatusConnected || conn.AccessToken == "" {
		return
	}
	settings := DecodeSettings(conn.SettingsJSON)

	source, err := s.NewSource(conn.AccessToken)
	if err != nil {
		config.LogError(s.Logger, "gumsync", "runPass", "event source init failed", nil, err)
		_ = appendAudit(ctx, db, settings, models.AuditSyncError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	syncer := &Syncer{
		DB:       db,
		Logger:   s.Logger,
		Source:   source,
		Identity: identity,
		Notifier: notifier,
	}

	now := time.Now()
	stats, err := syncer.RunPass(ctx, settings)
	updates := map[string]interface{}{"last_pass_at": now}
	if err == nil {
		updates["last_success_pass_at"] = now
	}
	if updErr := models.UpdateGumroadConnection(ctx, db, conn.ID, updates); updErr != nil {
		s.Logger.WithContext(ctx).WithError(updErr).Warn("pass timestamp update failed")
	}
	if err == nil {
		s.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"total":       stats.Total,
			"provisioned": stats.Provisioned,
			"refunds":     stats.Refunds,
			"errors":      stats.Errors,
		}).Info("reconciliation pass completed")
	}
}

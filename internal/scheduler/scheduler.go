package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/credits"
	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/model"

	"github.com/robfig/cron/v3"
)

// Account balances reset at midnight UTC+8, so all cron schedules run in
// that zone regardless of host time.
var utcPlus8 = time.FixedZone("UTC+8", 8*3600)

// Scheduler manages the recurring credit maintenance tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Store     *ledger.Store
	Refresher *credits.Refresher
	Accounts  func() map[int]model.EnvAccount
	Ctx       context.Context
}

// NewScheduler creates a Scheduler. accounts is evaluated on every run so
// environment changes are picked up without a restart.
func NewScheduler(ctx context.Context, store *ledger.Store, ref *credits.Refresher, accounts func() map[int]model.EnvAccount) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithLocation(utcPlus8)),
		Store:     store,
		Refresher: ref,
		Accounts:  accounts,
		Ctx:       ctx,
	}
}

// Register registers the daily refresh task. The schedule is interpreted in
// UTC+8; the default fires shortly after the balance reset boundary.
func (s *Scheduler) Register(refreshCron string) error {
	if _, err := s.Cron.AddFunc(refreshCron, s.dailyRefresh); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

// RunRefreshNow executes the daily refresh immediately (manual trigger /
// RUN_ON_START).
func (s *Scheduler) RunRefreshNow() {
	s.dailyRefresh()
}

func (s *Scheduler) dailyRefresh() {
	log.Println("[INFO] running daily credit refresh")

	state, err := s.Store.Load()
	if err != nil {
		log.Printf("[ERROR] daily refresh: load ledger: %v", err)
		return
	}
	if _, err := s.Store.CheckAndResetDaily(state); err != nil {
		log.Printf("[ERROR] daily refresh: reset marker: %v", err)
		return
	}

	accounts := s.Accounts()
	if len(accounts) == 0 {
		log.Println("[WARN] daily refresh: no accounts configured")
		return
	}

	results := s.Refresher.RefreshAll(s.Ctx, accounts)
	valid, invalid := 0, 0
	for _, r := range results {
		if r.Valid {
			valid++
		} else {
			invalid++
		}
	}
	log.Printf("[INFO] daily refresh done: %d valid, %d invalid", valid, invalid)
}

// Package scheduler runs recurring reviews on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/review"
	"github.com/kylemclaren/reviewd/internal/webhook"
)

// Scheduler manages cron jobs for review schedules
type Scheduler struct {
	cron      *cron.Cron
	db        *db.DB
	reviews   *review.Service
	discord   *webhook.Discord
	slack     *webhook.Slack
	jobs      map[string]cron.EntryID
	cronExprs map[string]string // detect expression changes on sync
	mu        sync.RWMutex
	running   bool
	stopSync  chan struct{}
}

// New creates a new scheduler
func New(database *db.DB, reviews *review.Service) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		db:        database,
		reviews:   reviews,
		discord:   webhook.NewDiscord(),
		slack:     webhook.NewSlack(),
		jobs:      make(map[string]cron.EntryID),
		cronExprs: make(map[string]string),
		stopSync:  make(chan struct{}),
	}
}

// Start loads enabled schedules and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	schedules, err := s.db.ListSchedules()
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, sched := range schedules {
		if sched.Enabled {
			if err := s.scheduleLocked(sched); err != nil {
				log.Printf("Failed to schedule %s: %v", sched.ID, err)
			}
		}
	}

	s.cron.Start()
	s.running = true

	go s.syncLoop()

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopSync)

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Add schedules a new review schedule
func (s *Scheduler) Add(sched *db.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(sched)
}

// Remove removes a schedule from the cron loop
func (s *Scheduler) Remove(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(scheduleID)
}

func (s *Scheduler) removeLocked(scheduleID string) {
	if entryID, ok := s.jobs[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, scheduleID)
		delete(s.cronExprs, scheduleID)
	}
}

// NextRunTime returns the next tick for a schedule, if scheduled
func (s *Scheduler) NextRunTime(scheduleID string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entryID, ok := s.jobs[scheduleID]; ok {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}

func (s *Scheduler) scheduleLocked(sched *db.Schedule) error {
	s.removeLocked(sched.ID)

	scheduleID := sched.ID
	entryID, err := s.cron.AddFunc(sched.CronExpr, func() {
		s.runSchedule(scheduleID)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.jobs[sched.ID] = entryID
	s.cronExprs[sched.ID] = sched.CronExpr
	return nil
}

// runSchedule fires one scheduled review: create the run, enqueue its
// tasks, and notify webhooks once every task has finished.
func (s *Scheduler) runSchedule(scheduleID string) {
	sched, err := s.db.GetSchedule(scheduleID)
	if err != nil {
		log.Printf("Failed to get schedule %s: %v", scheduleID, err)
		return
	}
	if !sched.Enabled {
		return
	}

	req := review.Request{
		RepoID:       sched.RepoID,
		BaseBranch:   sched.BaseBranch,
		TargetBranch: sched.TargetBranch,
		TemplateIDs:  sched.TemplateIDs,
	}
	run, tasks, err := s.reviews.CreateRun(context.Background(), req)
	if err != nil {
		log.Printf("Scheduled review %s failed to start: %v", sched.Name, err)
		return
	}
	handles := s.reviews.StartRun(run, tasks, review.Options{})
	_ = s.db.TouchScheduleLastRun(sched.ID)

	go func() {
		for _, h := range handles {
			_ = h.Wait()
		}
		s.notify(sched, run.ID)
	}()
}

func (s *Scheduler) notify(sched *db.Schedule, runID string) {
	if sched.SlackWebhook == "" && sched.DiscordWebhook == "" {
		return
	}
	run, err := s.db.GetRun(runID)
	if err != nil {
		return
	}
	tasks, err := s.db.ListTasksForRun(runID)
	if err != nil {
		return
	}
	if sched.SlackWebhook != "" {
		if err := s.slack.SendRunResult(sched.SlackWebhook, sched.Name, run, tasks); err != nil {
			log.Printf("Slack notification failed for %s: %v", sched.Name, err)
		}
	}
	if sched.DiscordWebhook != "" {
		if err := s.discord.SendRunResult(sched.DiscordWebhook, sched.Name, run, tasks); err != nil {
			log.Printf("Discord notification failed for %s: %v", sched.Name, err)
		}
	}
}

// syncLoop periodically reconciles schedules from the database
func (s *Scheduler) syncLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSync:
			return
		case <-ticker.C:
			s.Sync()
		}
	}
}

// Sync reloads schedules and reconciles the cron entries
func (s *Scheduler) Sync() {
	schedules, err := s.db.ListSchedules()
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool)
	for _, sched := range schedules {
		known[sched.ID] = true
	}

	for id := range s.jobs {
		if !known[id] {
			s.removeLocked(id)
		}
	}

	for _, sched := range schedules {
		_, scheduled := s.jobs[sched.ID]
		oldExpr := s.cronExprs[sched.ID]

		switch {
		case sched.Enabled && !scheduled:
			_ = s.scheduleLocked(sched)
		case !sched.Enabled && scheduled:
			s.removeLocked(sched.ID)
		case sched.Enabled && scheduled && sched.CronExpr != oldExpr:
			_ = s.scheduleLocked(sched)
		}
	}
}

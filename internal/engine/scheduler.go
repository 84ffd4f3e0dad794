package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/rules"
)

// Scheduler drives the engine on a timer: periodic fleet passes over the
// current day, plus a slower housekeeping sweep that expires stale
// alerts.
type Scheduler struct {
	engine        *Engine
	rulesDir      string
	schemaPath    string
	passInterval  time.Duration
	sweepInterval time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	ruleCount int
}

// NewScheduler creates a scheduler for an engine.
func NewScheduler(engine *Engine, rulesDir, schemaPath string, passInterval, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		engine:        engine,
		rulesDir:      rulesDir,
		schemaPath:    schemaPath,
		passInterval:  passInterval,
		sweepInterval: sweepInterval,
	}
}

// LoadRules loads and validates the escalation rule directory and swaps
// the rule set into the engine.
func (s *Scheduler) LoadRules() error {
	validator, err := rules.NewValidator(s.schemaPath)
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	validationErrors := validator.ValidateDirectory(s.rulesDir)
	if len(validationErrors) > 0 {
		for _, verr := range validationErrors {
			log.Printf("rule validation: %v", verr)
		}
		return fmt.Errorf("rule validation failed: %d errors", len(validationErrors))
	}

	ruleFiles, loadErrors := rules.LoadFromDirectory(s.rulesDir)
	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load rules: %d errors", len(loadErrors))
	}
	if len(ruleFiles) == 0 {
		return fmt.Errorf("no rules found in %s", s.rulesDir)
	}

	ruleSet := make([]domain.EscalationRule, 0, len(ruleFiles))
	for _, rf := range ruleFiles {
		ruleSet = append(ruleSet, rf.Rule.ToDomain())
	}
	s.engine.SetEvaluator(rules.NewEvaluator(ruleSet))

	s.mu.Lock()
	s.ruleCount = len(ruleSet)
	s.mu.Unlock()

	log.Printf("Loaded %d escalation rules", len(ruleSet))
	return nil
}

// RuleCount reports how many rules the last successful load installed.
func (s *Scheduler) RuleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ruleCount
}

// Start begins periodic processing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.passLoop(ctx)
	go s.sweepLoop(ctx)

	log.Printf("Started scheduler (pass every %s, sweep every %s)", s.passInterval, s.sweepInterval)
	return nil
}

// Stop stops the scheduler and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) passLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.passInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			now = now.UTC()
			processed, failed, err := s.engine.RunFleetPass(ctx, now.Format("2006-01-02"), now)
			if err != nil {
				log.Printf("fleet pass: %v", err)
				continue
			}
			log.Printf("fleet pass: %d stores processed, %d failed", processed, failed)
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			now = now.UTC()
			expired, err := s.engine.Alerts().ExpireStale(ctx, now.Format("2006-01-02"), now)
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if expired > 0 {
				log.Printf("expiry sweep: %d stale alerts expired", expired)
			}
		}
	}
}

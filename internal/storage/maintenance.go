package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ==================== Background maintenance ====================
// Runs periodic checkpoints on a CRON schedule so dirty pages reach disk
// without waiting for an explicit commit.

// Maintenance schedules background checkpoints for an engine.
type Maintenance struct {
	eng  *Engine
	cron *cron.Cron
	spec string

	mu      sync.Mutex
	cancel  context.CancelFunc // cancels a running checkpoint
	running bool
}

// MaintenanceTimeout bounds one background checkpoint run.
const MaintenanceTimeout = 5 * time.Minute

// NewMaintenance creates a scheduler that checkpoints eng per the cron
// spec (standard 5-field expressions).
func NewMaintenance(eng *Engine, spec string) *Maintenance {
	return &Maintenance{
		eng:  eng,
		cron: cron.New(),
		spec: spec,
	}
}

// Start registers the checkpoint job and starts the scheduler.
func (m *Maintenance) Start() error {
	_, err := m.cron.AddFunc(m.spec, m.runCheckpoint)
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the scheduler, cancels a checkpoint in flight, and waits for
// it to return.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	<-ctx.Done()
}

// runCheckpoint flushes the engine, skipping the run when the previous
// one is still going.
func (m *Maintenance) runCheckpoint() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Printf("checkpoint already running, skipping")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), MaintenanceTimeout)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
	}()

	if err := m.eng.FlushAll(ctx); err != nil {
		log.Printf("background checkpoint failed: %v", err)
	}
}

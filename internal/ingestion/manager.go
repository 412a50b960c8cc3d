package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

// Processor takes one raw record through normalization, enrichment and
// clustering. The pipeline package provides the production one.
type Processor interface {
	Process(ctx context.Context, rec Record) error
}

// CollectorStatus is the last observed state of one collector, kept for
// the collection status endpoint.
type CollectorStatus struct {
	Name      string    `json:"name"`
	LastRun   time.Time `json:"last_run"`
	LastCount int       `json:"last_count"`
	LastError string    `json:"last_error,omitempty"`
}

type Manager struct {
	cfg        *config.Config
	processor  Processor
	collectors []Collector
	pool       *worker.WorkerPool[Record]
	wg         sync.WaitGroup

	mu     sync.Mutex
	status map[string]CollectorStatus
}

func NewManager(cfg *config.Config, processor Processor, collectors ...Collector) *Manager {
	return &Manager{
		cfg:        cfg,
		processor:  processor,
		collectors: collectors,
		status:     make(map[string]CollectorStatus),
	}
}

func (m *Manager) Start(ctx context.Context) {
	process := func(ctx context.Context, rec Record) error {
		return m.processor.Process(ctx, rec)
	}

	m.pool = worker.NewWorkerPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, process)
	m.pool.Start(ctx)

	for _, c := range m.collectors {
		m.wg.Add(1)
		go m.runPoller(ctx, c, m.cfg.Collection.PollInterval)
	}
}

func (m *Manager) runPoller(ctx context.Context, c Collector, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", c.Name(), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	m.collect(ctx, c)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", c.Name())
			return
		case <-ticker.C:
			m.collect(ctx, c)
		}
	}
}

func (m *Manager) collect(ctx context.Context, c Collector) {
	slog.Debug("collecting", "source", c.Name())

	records, err := c.Collect(ctx)

	st := CollectorStatus{Name: c.Name(), LastRun: time.Now().UTC(), LastCount: len(records)}
	if err != nil {
		st.LastError = err.Error()
	}
	m.mu.Lock()
	m.status[c.Name()] = st
	m.mu.Unlock()

	if err != nil {
		slog.Error("collection failed", "source", c.Name(), "error", err)
		return
	}

	for _, rec := range records {
		m.pool.Submit(rec)
	}

	slog.Debug("collection complete", "source", c.Name(), "count", len(records))
}

// RunCycle polls every collector once, outside the regular schedule.
func (m *Manager) RunCycle(ctx context.Context) {
	for _, c := range m.collectors {
		m.collect(ctx, c)
	}
}

// Status reports the last run of each collector in registration order.
func (m *Manager) Status() []CollectorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CollectorStatus, 0, len(m.collectors))
	for _, c := range m.collectors {
		if st, ok := m.status[c.Name()]; ok {
			out = append(out, st)
		} else {
			out = append(out, CollectorStatus{Name: c.Name()})
		}
	}
	return out
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("ingestion manager stopped")
}

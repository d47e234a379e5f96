package monitors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
)

// Snapshot is one host sample as stored in server_performance.
type Snapshot struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	Load1            float64   `json:"load1"`
	UptimeSeconds    uint64    `json:"uptime_seconds"`
	SampledAt        time.Time `json:"sampled_at"`
}

// Probe reads the current host state.
type Probe func(ctx context.Context) (Snapshot, error)

// HostProbe samples the local machine with gopsutil. CPU percent is measured
// since the previous call, so the very first sample may read 0.
func HostProbe(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("memory: %w", err)
	}
	s.MemoryPercent, s.MemoryUsedBytes, s.MemoryTotalBytes = vm.UsedPercent, vm.Used, vm.Total

	// load and uptime are not available everywhere; keep the sample without them
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		s.UptimeSeconds = up
	}
	s.SampledAt = time.Now().UTC()
	return s, nil
}

// PerformanceSampler periodically stores a host snapshot and prunes old ones.
type PerformanceSampler struct {
	db        *sql.DB
	probe     Probe
	interval  time.Duration
	retention time.Duration
}

func NewPerformanceSampler(sqlDB *sql.DB, probe Probe, interval, retention time.Duration) *PerformanceSampler {
	if interval <= 0 {
		interval = time.Minute
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if probe == nil {
		probe = HostProbe
	}
	return &PerformanceSampler{db: sqlDB, probe: probe, interval: interval, retention: retention}
}

// Serve samples once immediately and then on every interval until ctx is done.
func (p *PerformanceSampler) Serve(ctx context.Context) error {
	logging.Info("Performance sampler started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.SampleOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("performance sample failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logging.Info("Performance sampler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *PerformanceSampler) String() string { return "performance-sampler" }

// SampleOnce probes the host, stores the snapshot and deletes rows older
// than the retention window.
func (p *PerformanceSampler) SampleOnce(ctx context.Context) error {
	s, err := p.probe(ctx)
	if err != nil {
		return err
	}
	if s.SampledAt.IsZero() {
		s.SampledAt = time.Now().UTC()
	}
	metrics.HostCPUPercent.Set(s.CPUPercent)
	metrics.HostMemoryPercent.Set(s.MemoryPercent)

	at := s.SampledAt.Unix()
	if _, err := db.ExecWithRetry(ctx, p.db, `
		INSERT INTO server_performance (id, cpu_percent, memory_percent, memory_used_bytes,
			memory_total_bytes, load1, uptime_seconds, sampled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.CPUPercent, s.MemoryPercent, int64(s.MemoryUsedBytes), int64(s.MemoryTotalBytes),
		s.Load1, int64(s.UptimeSeconds), at, db.Now()); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	cutoff := s.SampledAt.Add(-p.retention).Unix()
	if _, err := db.ExecWithRetry(ctx, p.db, `DELETE FROM server_performance WHERE sampled_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Latest returns the newest stored snapshot, or nil when none exists.
func Latest(ctx context.Context, sqlDB *sql.DB) (*Snapshot, error) {
	var (
		s         Snapshot
		used, tot int64
		up, at    int64
	)
	err := sqlDB.QueryRowContext(ctx, `
		SELECT cpu_percent, memory_percent, memory_used_bytes, memory_total_bytes, load1, uptime_seconds, sampled_at
		FROM server_performance ORDER BY sampled_at DESC LIMIT 1`).
		Scan(&s.CPUPercent, &s.MemoryPercent, &used, &tot, &s.Load1, &up, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.MemoryUsedBytes, s.MemoryTotalBytes, s.UptimeSeconds = uint64(used), uint64(tot), uint64(up)
	s.SampledAt = time.Unix(at, 0).UTC()
	return &s, nil
}

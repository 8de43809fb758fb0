package invoker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/semaphore"
)

// CgroupPool tracks the host's shared, reservable core budget (spec
// 4.F). The pool is modeled as a weighted semaphore sized to the host's
// total core budget; LocalSupervisor reserves a computation's Cores on
// Spawn and releases them on exit. A computation whose ResourceLimits
// set Loan skips the pool entirely: it reserves nothing and is not
// bounded by the pool.
type CgroupPool struct {
	sem   *semaphore.Weighted
	total int64
}

// NewCgroupPool creates a pool with the given total core budget.
func NewCgroupPool(totalCores int64) *CgroupPool {
	if totalCores <= 0 {
		totalCores = 1
	}
	return &CgroupPool{sem: semaphore.NewWeighted(totalCores), total: totalCores}
}

// Reserve blocks until weight cores are available, or ctx is canceled.
func (p *CgroupPool) Reserve(ctx context.Context, cores float64) error {
	weight := int64(cores)
	if weight < 1 {
		weight = 1
	}
	if weight > p.total {
		weight = p.total
	}
	return p.sem.Acquire(ctx, weight)
}

// Release returns weight cores to the pool.
func (p *CgroupPool) Release(cores float64) {
	weight := int64(cores)
	if weight < 1 {
		weight = 1
	}
	if weight > p.total {
		weight = p.total
	}
	p.sem.Release(weight)
}

// applyLimits places pid into a per-process cgroup with the configured
// memory/CPU caps. Best-effort: cgroup v2 is only available on Linux, so
// this is a no-op (with a warn-level intent logged by the caller) on
// other platforms or when the cgroup filesystem isn't writable (e.g.
// inside an unprivileged container or during tests).
func applyLimits(pid int, limits ResourceLimits) error {
	if limits.MemoryMB <= 0 && limits.Cores <= 0 {
		return nil
	}

	groupDir := filepath.Join("/sys/fs/cgroup", "arras4-node", strconv.Itoa(pid))
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		return fmt.Errorf("cgroup unavailable, skipping resource enforcement: %w", err)
	}

	if limits.MemoryMB > 0 {
		maxBytes := int64(limits.MemoryMB) * 1024 * 1024
		_ = os.WriteFile(filepath.Join(groupDir, "memory.max"), []byte(strconv.FormatInt(maxBytes, 10)), 0644)
	}
	if limits.Cores > 0 {
		quota := int64(limits.Cores * 100000)
		_ = os.WriteFile(filepath.Join(groupDir, "cpu.max"), []byte(fmt.Sprintf("%d 100000", quota)), 0644)
	}
	_ = os.WriteFile(filepath.Join(groupDir, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644)

	return nil
}

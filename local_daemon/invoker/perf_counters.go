package invoker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dreamworksanimation/arras4-node/common/utils"
)

// Counters holds a computation's rolling performance snapshot (spec 3:
// "rolling performance counters (CPU%, memory, messages-per-interval,
// total-CPU-secs)"). Percentages are accumulated with decimal.Decimal
// rather than float64 so repeated small updates don't drift away from
// zero, reusing the EqualWithTolerance/TryRoundToZero helpers the
// teacher already carries in common/utils.
type Counters struct {
	mu sync.Mutex

	cpuPercent      decimal.Decimal
	memoryMB        decimal.Decimal
	messagesPerWindow int64
	totalCPUSecs    decimal.Decimal

	lastSample time.Time
}

// Snapshot is the immutable, read-only view returned to HTTP callers
// (get_performance).
type Snapshot struct {
	CPUPercent        float64 `json:"cpuPercent"`
	MemoryMB          float64 `json:"memoryMB"`
	MessagesPerWindow int64   `json:"messagesPerWindow"`
	TotalCPUSeconds   float64 `json:"totalCpuSeconds"`
}

// Update folds a new sample into the rolling counters.
func (c *Counters) Update(cpuPercent, memoryMB float64, messagesInWindow int64, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cpuPercent = utils.TryRoundToZero(decimal.NewFromFloat(cpuPercent))
	c.memoryMB = utils.TryRoundToZero(decimal.NewFromFloat(memoryMB))
	c.messagesPerWindow = messagesInWindow

	elapsedSecs := decimal.NewFromFloat(elapsed.Seconds())
	increment := c.cpuPercent.Div(decimal.NewFromInt(100)).Mul(elapsedSecs)
	c.totalCPUSecs = c.totalCPUSecs.Add(increment)

	c.lastSample = time.Now()
}

// Snapshot returns a read-only copy of the current counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cpu, _ := c.cpuPercent.Float64()
	mem, _ := c.memoryMB.Float64()
	total, _ := c.totalCPUSecs.Float64()

	return Snapshot{
		CPUPercent:        cpu,
		MemoryMB:          mem,
		MessagesPerWindow: c.messagesPerWindow,
		TotalCPUSeconds:   total,
	}
}

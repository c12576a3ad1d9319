// Package queue implements the work queues of the workload runner, together
// with their progress accounting.
package queue

import "time"

const (
	// UnitItems is the [Progress.TransferSpeedUnit] of queues moving no bytes.
	UnitItems = "items/sec"

	// UnitBytes is the [Progress.TransferSpeedUnit] of queues that were
	// credited bytes through [GenericQueue.AddBytes].
	UnitBytes = "bytes/sec"
)

// Progress is a snapshot of the accounting of a queue or a group of queues.
type Progress struct {
	HasStarted  bool
	HasFinished bool
	StartTime   time.Time
	FinishTime  time.Time

	ProgressPct     float64
	TotalItems      int
	ProcessedItems  int
	InProgressItems int
	SuccessItems    int
	SkippedItems    int
	FailedItems     int

	Bytes             uint64
	ETA               time.Time
	TimeLeft          time.Duration
	TransferSpeed     float64
	TransferSpeedUnit string
}

// estimate fills in the percentage, the speed and the remaining time of p
// from its item and byte counts, as measured since p.StartTime.
func (p *Progress) estimate() {
	p.ProcessedItems = min(p.ProcessedItems, p.TotalItems)

	if p.TotalItems > 0 {
		p.ProgressPct = float64(p.ProcessedItems) / float64(p.TotalItems) * 100 //nolint:mnd
		p.ProgressPct = max(float64(0), min(p.ProgressPct, float64(100)))       //nolint:mnd
	}

	p.TransferSpeedUnit = UnitItems
	if p.Bytes > 0 {
		p.TransferSpeedUnit = UnitBytes
	}

	if !p.HasStarted || p.ProcessedItems == 0 {
		return
	}

	elapsed := max(time.Since(p.StartTime).Seconds(), 1)

	if p.Bytes > 0 {
		p.TransferSpeed = float64(p.Bytes) / elapsed
	} else {
		p.TransferSpeed = float64(p.ProcessedItems) / elapsed
	}

	if p.ProcessedItems >= p.TotalItems {
		return
	}

	itemsPerSec := float64(p.ProcessedItems) / elapsed
	remaining := float64(p.TotalItems-p.ProcessedItems) / itemsPerSec

	p.TimeLeft = time.Duration(remaining * float64(time.Second))
	p.ETA = time.Now().Add(p.TimeLeft)
}

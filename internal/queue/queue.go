// Package queue provides the pending-job queues of the scheduler. Queues are
// first in, first out and keep statistics about the items that passed
// through them, which the scheduler aggregates per scheme.
package queue

import "time"

// Progress is a point-in-time statistic of a queue or a set of queues.
type Progress struct {
	HasStarted        bool
	HasFinished       bool
	StartTime         time.Time
	FinishTime        time.Time
	ProgressPct       float64
	TotalItems        int
	ProcessedItems    int
	PendingItems      int
	InProgressItems   int
	SuccessItems      int
	SkippedItems      int
	ETA               time.Time
	TimeLeft          time.Duration
	TransferSpeed     float64
	TransferSpeedUnit string
}

const speedUnit = "jobs/sec"

// estimate fills in the percentage and the time estimates of a [Progress].
func (p *Progress) estimate() {
	if p.TotalItems > 0 {
		p.ProgressPct = float64(p.ProcessedItems) / float64(p.TotalItems) * 100 //nolint:mnd
		p.ProgressPct = max(float64(0), min(p.ProgressPct, float64(100)))       //nolint:mnd
	}

	p.TransferSpeedUnit = speedUnit

	if p.HasStarted && p.ProcessedItems > 0 && p.ProcessedItems < p.TotalItems {
		elapsed := time.Since(p.StartTime)
		itemsPerSec := float64(p.ProcessedItems) / max(elapsed.Seconds(), 1)

		if itemsPerSec > 0 {
			remainingItems := p.TotalItems - p.ProcessedItems
			remainingSeconds := float64(remainingItems) / itemsPerSec
			p.TimeLeft = time.Duration(remainingSeconds * float64(time.Second))
			p.ETA = time.Now().Add(p.TimeLeft)
			p.TransferSpeed = itemsPerSec
		}
	}
}

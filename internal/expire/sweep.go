package expire

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// StartArchivingOldStuff begins the periodic sweep, which archives visits
// older than |threshold|. The first iteration runs after SweepDelay. The
// sweep reschedules itself until StopArchivingOldStuff.
func (b *Backend) StartArchivingOldStuff(threshold time.Duration) {
	b.threshold = threshold
	b.stopped = false
	b.sweep.Cancel()
	b.scheduleArchive(b.SweepDelay)
}

// StopArchivingOldStuff cancels the sweep. A pending iteration never runs.
func (b *Backend) StopArchivingOldStuff() {
	b.stopped = true
	b.sweep.Cancel()
	b.sweep = nil
}

// Sweeping returns whether an iteration of the sweep is scheduled.
func (b *Backend) Sweeping() bool { return b.sweep != nil && !b.sweep.Canceled() }

// Threshold returns the age beyond which the sweep archives visits.
func (b *Backend) Threshold() time.Duration { return b.threshold }

func (b *Backend) scheduleArchive(delay time.Duration) {
	if b.stopped || b.sched == nil {
		return
	}
	b.sweep = b.sched.PostDelayed(delay, b.doArchiveIteration)
}

func (b *Backend) doArchiveIteration() {
	b.sweep = nil
	if b.stopped {
		return
	}
	sweepIterationsTotal.Inc()

	var more = b.ArchiveSomeOldHistory(b.Now().Add(-b.threshold), b.BatchSize)

	var delay = b.IdleDelay
	if more {
		delay = b.SweepDelay
	}
	log.WithFields(log.Fields{"more": more, "next": delay}).Debug("archive sweep iteration")
	b.scheduleArchive(delay)
}

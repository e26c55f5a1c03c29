package janitor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/un-fck/webtv.unfck.org/internal/store"
)

// Scheduler periodically clears pipeline locks whose holders died without
// releasing. Staleness already lets new callers take such locks over; the
// sweep just keeps abandoned rows from looking busy in between.
type Scheduler struct {
	store     *store.Store
	interval  time.Duration
	staleness time.Duration
	stopChan  chan struct{}
	log       *logrus.Entry
}

func NewScheduler(st *store.Store, interval, staleness time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		store:     st,
		interval:  interval,
		staleness: staleness,
		stopChan:  make(chan struct{}),
		log:       log,
	}
}

// Start runs one sweep immediately and then sweeps on the interval.
func (s *Scheduler) Start() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.WithFields(logrus.Fields{
		"interval":  s.interval,
		"staleness": s.staleness,
	}).Info("lock janitor started")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) sweep() {
	n, err := s.store.ReleaseStaleLocks(s.staleness)
	if err != nil {
		s.log.WithError(err).Warn("stale lock sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("released", n).Info("released stale pipeline locks")
	}
}

package registry

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

// Sweeper periodically evicts terminal sagas older than the retention age.
type Sweeper struct {
	reg *Registry
	age time.Duration
	log *logger.Logger
	c   *cron.Cron
}

// NewSweeper schedules sweeps with a standard 5-field cron expression.
func NewSweeper(reg *Registry, spec string, age time.Duration, log *logger.Logger) (*Sweeper, error) {
	s := &Sweeper{
		reg: reg,
		age: age,
		log: log,
		c:   cron.New(),
	}
	if _, err := s.c.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.c.Start()
}

func (s *Sweeper) Stop() {
	s.c.Stop()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.age)
	evicted := 0

	for _, snap := range s.reg.List() {
		if !snap.Status.Terminal() {
			continue
		}
		if snap.UpdatedAt.After(cutoff) {
			continue
		}
		if s.reg.Evict(snap.SagaID) {
			evicted++
		}
	}

	if evicted > 0 {
		s.log.Infof("evicted terminal sagas", map[string]interface{}{"count": evicted})
	}
}

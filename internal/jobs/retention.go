package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/repository"
)

// RetentionJob periodically deletes archived events older than the
// retention window.
type RetentionJob struct {
	eventRepo repository.EventRepository
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewRetentionJob(eventRepo repository.EventRepository, retention, interval time.Duration) *RetentionJob {
	return &RetentionJob{
		eventRepo: eventRepo,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *RetentionJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.eventRepo.DeleteOlderThan(ctx, time.Now().Add(-j.retention))
	if err != nil {
		log.Error().Err(err).Msg("failed to sweep archived events")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("swept archived events")
	}
}

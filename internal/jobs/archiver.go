package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	"github.com/openclaw/wa-orchestrator-go/internal/repository"
)

// Archiver persists every bus event to the event archive.
type Archiver struct {
	bus       *bus.Bus
	eventRepo repository.EventRepository
	sub       *bus.Subscriber
	done      chan struct{}
}

func NewArchiver(b *bus.Bus, eventRepo repository.EventRepository) *Archiver {
	return &Archiver{
		bus:       b,
		eventRepo: eventRepo,
		done:      make(chan struct{}),
	}
}

func (a *Archiver) Start() {
	a.sub = a.bus.SubscribeAll()
	go a.run()
	log.Info().Msg("event archiver started")
}

func (a *Archiver) Stop() {
	a.sub.Unsubscribe()
	close(a.done)
	log.Info().Msg("event archiver stopped")
}

func (a *Archiver) run() {
	for {
		select {
		case <-a.done:
			return
		case <-a.sub.Done():
			return
		case ev, ok := <-a.sub.Events():
			if !ok {
				return
			}
			a.archive(ev)
		}
	}
}

func (a *Archiver) archive(ev bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.eventRepo.Create(ctx, repository.CreateSessionEventParams{
		SessionID: ev.ID,
		Type:      string(ev.Type),
		Text:      ev.Text,
		CreatedAt: time.UnixMilli(ev.TS),
	})
	if err != nil {
		log.Error().Err(err).Str("id", ev.ID).Msg("failed to archive event")
	}
}

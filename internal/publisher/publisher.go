// Package publisher periodically snapshots the task store and fans the
// snapshots out to subscribers. Consumers poll-by-subscription: they never
// touch the store and always receive full state, so a missed frame is
// harmless.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/models"
	"github.com/dmarchuk/shuttersync/internal/store"
)

const defaultInterval = time.Second

type Publisher struct {
	store    store.TaskStore
	log      logging.Logger
	interval time.Duration

	mu   sync.Mutex
	subs map[int]chan []*models.UploadTask
	next int
}

func New(taskStore store.TaskStore, log logging.Logger, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Publisher{
		store:    taskStore,
		log:      log,
		interval: interval,
		subs:     make(map[int]chan []*models.UploadTask),
	}
}

// Subscribe registers a listener for task snapshots. The returned cancel
// function unregisters it and closes the channel; it is safe to call more
// than once.
func (p *Publisher) Subscribe() (<-chan []*models.UploadTask, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	ch := make(chan []*models.UploadTask, 1)
	p.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Refresh reads the store once and emits the snapshot to every subscriber.
// Emission never blocks: a subscriber that has not drained its previous
// frame skips this one and catches up on the next.
func (p *Publisher) Refresh(ctx context.Context) error {
	tasks, err := p.store.GetAll(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		snapshot := make([]*models.UploadTask, 0, len(tasks))
		for _, t := range tasks {
			snapshot = append(snapshot, t.Clone())
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	return nil
}

// Run refreshes on the configured interval until the context is done. Read
// failures are logged and the loop keeps going; the store owns durability,
// the publisher only mirrors it.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.log.Warn(ctx, "progress refresh failed", "error", err.Error())
			}
		}
	}
}

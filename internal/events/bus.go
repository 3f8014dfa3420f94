package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"guildkeeper/internal/metrics"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("event bus closed")

type Handler func(ctx context.Context, ev *Event) error

type subscriber struct {
	name    string
	handler Handler
}

type Config struct {
	Lanes      int
	LaneBuffer int
}

// Bus fans normalized events out to subscribers. Events sharing a
// (guild, kind) pair land on the same lane and are delivered in order;
// everything else runs concurrently.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[Kind][]subscriber
	lanes  []chan *Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewBus(cfg Config, logger *zap.Logger) *Bus {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger: logger,
		subs:   make(map[Kind][]subscriber),
		lanes:  make([]chan *Event, cfg.Lanes),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range b.lanes {
		b.lanes[i] = make(chan *Event, cfg.LaneBuffer)
	}
	return b
}

func (b *Bus) Subscribe(kind Kind, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], subscriber{name: name, handler: handler})
}

func (b *Bus) Start() {
	for _, lane := range b.lanes {
		b.wg.Add(1)
		go b.runLane(lane)
	}
}

func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	metrics.BusEvents.WithLabelValues(string(ev.Kind)).Inc()

	lane := b.lanes[b.laneFor(ev)]
	select {
	case lane <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrClosed
	}
}

// PublishAsync is used by subscribers that emit events while running on a
// lane, so a full lane never blocks its own consumer.
func (b *Bus) PublishAsync(ev *Event) {
	go func() {
		if err := b.Publish(b.ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
			b.logger.Warn("async publish failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}()
}

func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("event bus shutdown timed out")
	}
}

func (b *Bus) laneFor(ev *Event) int {
	h := murmur3.Sum32([]byte(ev.GuildID + "\x00" + string(ev.Kind)))
	return int(h % uint32(len(b.lanes)))
}

func (b *Bus) runLane(lane chan *Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-lane:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev *Event) {
	b.mu.RLock()
	subs := b.subs[ev.Kind]
	b.mu.RUnlock()
	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscriber, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanics.WithLabelValues(sub.name).Inc()
			b.logger.Error("event handler panic",
				zap.String("subscriber", sub.name),
				zap.String("kind", string(ev.Kind)),
				zap.String("guild_id", ev.GuildID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := sub.handler(b.ctx, ev); err != nil {
		metrics.BusHandlerErrors.WithLabelValues(sub.name).Inc()
		b.logger.Warn("event handler failed",
			zap.String("subscriber", sub.name),
			zap.String("kind", string(ev.Kind)),
			zap.String("guild_id", ev.GuildID),
			zap.Error(err),
		)
	}
}

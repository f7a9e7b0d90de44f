package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/bus"
	"github.com/SshgurkiratSingh/IPD-24/internal/store"
)

type publishedMsg struct {
	Topic string
	Value string
}

// fakeBus records publishes and lets tests inject inbound messages.
type fakeBus struct {
	mu            sync.Mutex
	published     []publishedMsg
	handlers      map[string][]bus.Handler
	subscribes    map[string]int
	unsubscribes  map[string]int
	failPublish   bool
	failSubscribe bool

	// subscribeHold, when set, blocks Subscribe calls until closed; used to
	// overlap a registration with an in-flight broker subscribe.
	subscribeHold chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers:     map[string][]bus.Handler{},
		subscribes:   map[string]int{},
		unsubscribes: map[string]int{},
	}
}

func (b *fakeBus) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublish {
		return &bus.TransportError{Op: "publish", Topic: topic, Err: errors.New("broker down")}
	}
	b.published = append(b.published, publishedMsg{Topic: topic, Value: payload})
	return nil
}

func (b *fakeBus) Subscribe(topic string, h bus.Handler) error {
	b.mu.Lock()
	hold := b.subscribeHold
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe {
		return &bus.TransportError{Op: "subscribe", Topic: topic, Err: errors.New("broker down")}
	}
	b.subscribes[topic]++
	b.handlers[topic] = append(b.handlers[topic], h)
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes[topic]++
	delete(b.handlers, topic)
	return nil
}

// inject delivers a message to all handlers, synchronously.
func (b *fakeBus) inject(topic, payload string) {
	b.mu.Lock()
	hs := append([]bus.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

func (b *fakeBus) lastPublished(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].Topic == topic {
			return b.published[i].Value, true
		}
	}
	return "", false
}

func (b *fakeBus) publishedTo(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.published {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// newTestEngine wires a full engine against a memory store and a fake bus.
func newTestEngine(fb *fakeBus) (*Controller, *Scheduler, *TriggerManager, store.Store) {
	st := store.NewMemory()
	exec := NewExecutor(st, fb, nil, zerolog.Nop())
	sched := NewScheduler(exec, zerolog.Nop())
	trig := NewTriggerManager(st, fb, exec, zerolog.Nop())
	ctrl := NewController(st, sched, trig, time.Minute, zerolog.Nop())
	return ctrl, sched, trig, st
}

func execCount(st store.Store, id string) int {
	hist, _ := st.ListExecutions(context.Background(), id)
	return len(hist)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

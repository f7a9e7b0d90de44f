package bus

import (
	"sync"
	"time"
)

// TopicState is the last observed value on one topic.
type TopicState struct {
	Topic string    `json:"topic"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// StateLog caches the latest payload per subscribed topic, replacing the
// previous value. It backs the dashboard's live-state view.
type StateLog struct {
	mu   sync.Mutex
	last map[string]TopicState
}

func NewStateLog() *StateLog {
	return &StateLog{last: map[string]TopicState{}}
}

// Attach subscribes the state log to the given topics. Subscription errors
// are returned per topic but do not stop the remaining subscriptions.
func (s *StateLog) Attach(b Bus, topics []string) []error {
	var errs []error
	for _, topic := range topics {
		if err := b.Subscribe(topic, s.record); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *StateLog) record(topic, payload string) {
	s.mu.Lock()
	s.last[topic] = TopicState{Topic: topic, Value: payload, At: time.Now()}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *StateLog) Snapshot() []TopicState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TopicState, 0, len(s.last))
	for _, st := range s.last {
		out = append(out, st)
	}
	return out
}

// Package bus connects the hub to its MQTT broker. It is both the trigger
// input (subscriptions feed the trigger manager) and the action output
// (task firings publish device commands).
package bus

import (
	"context"
	"fmt"
)

// Handler receives one inbound message. Handlers for the same topic are
// invoked in arrival order.
type Handler func(topic, payload string)

// Bus is the engine-facing pub/sub surface. Implementations must tolerate
// duplicate Unsubscribe calls.
type Bus interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string) error
}

// TransportError wraps a broker-level failure. Transport errors are logged
// and skipped during action execution; they never abort remaining work.
type TransportError struct {
	Op    string // "publish", "subscribe", "unsubscribe", "connect"
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s %q: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

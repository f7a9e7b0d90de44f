package bus

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Config configures the MQTT client. QoS and Retain apply to every publish;
// they are deployment knobs, not per-task state.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Client wraps paho with handler re-registration across reconnects. The
// paho session can drop subscriptions on a clean reconnect, so the client
// keeps its own topic->handlers map and replays it from the OnConnect hook.
//
// A topic may carry several handlers (the state log and the trigger manager
// can watch the same sensor). The broker subscription is shared; it is only
// released when the last handler for the topic is removed.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler

	c mqtt.Client
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	cl := &Client{cfg: cfg, log: log, handlers: map[string][]Handler{}}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true)
	opts.OnConnect = cl.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		cl.log.Warn().Err(err).Msg("mqtt connection lost")
	}
	cl.c = mqtt.NewClient(opts)
	return cl
}

// Connect blocks until the broker accepts the session or ctx expires.
func (cl *Client) Connect(ctx context.Context) error {
	tok := cl.c.Connect()
	if err := waitToken(ctx, tok, cl.cfg.ConnectTimeout); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	cl.log.Info().Str("broker", cl.cfg.BrokerURL).Msg("connected to mqtt broker")
	return nil
}

func (cl *Client) Close() {
	cl.c.Disconnect(250)
}

func (cl *Client) onConnect(c mqtt.Client) {
	cl.mu.Lock()
	topics := make([]string, 0, len(cl.handlers))
	for t := range cl.handlers {
		topics = append(topics, t)
	}
	cl.mu.Unlock()

	for _, topic := range topics {
		if tok := c.Subscribe(topic, cl.cfg.QoS, cl.dispatch); tok.WaitTimeout(cl.cfg.ConnectTimeout) && tok.Error() != nil {
			cl.log.Error().Err(tok.Error()).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (cl *Client) dispatch(_ mqtt.Client, m mqtt.Message) {
	cl.mu.Lock()
	hs := append([]Handler(nil), cl.handlers[m.Topic()]...)
	cl.mu.Unlock()
	for _, h := range hs {
		h(m.Topic(), string(m.Payload()))
	}
}

func (cl *Client) Publish(ctx context.Context, topic, payload string) error {
	tok := cl.c.Publish(topic, cl.cfg.QoS, cl.cfg.Retain, payload)
	if err := waitToken(ctx, tok, cl.cfg.PublishTimeout); err != nil {
		return &TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

func (cl *Client) Subscribe(topic string, h Handler) error {
	cl.mu.Lock()
	cl.handlers[topic] = append(cl.handlers[topic], h)
	first := len(cl.handlers[topic]) == 1
	cl.mu.Unlock()

	if !first {
		return nil
	}
	tok := cl.c.Subscribe(topic, cl.cfg.QoS, cl.dispatch)
	if err := waitToken(context.Background(), tok, cl.cfg.ConnectTimeout); err != nil {
		cl.mu.Lock()
		if hs := cl.handlers[topic]; len(hs) > 0 {
			cl.handlers[topic] = hs[:len(hs)-1]
			if len(cl.handlers[topic]) == 0 {
				delete(cl.handlers, topic)
			}
		}
		cl.mu.Unlock()
		return &TransportError{Op: "subscribe", Topic: topic, Err: err}
	}
	return nil
}

// Unsubscribe drops the most recently added handler for topic. The broker
// unsubscribe is sent only when no handler remains.
func (cl *Client) Unsubscribe(topic string) error {
	cl.mu.Lock()
	hs := cl.handlers[topic]
	if len(hs) > 0 {
		cl.handlers[topic] = hs[:len(hs)-1]
	}
	last := len(cl.handlers[topic]) == 0
	if last {
		delete(cl.handlers, topic)
	}
	cl.mu.Unlock()

	if !last {
		return nil
	}
	tok := cl.c.Unsubscribe(topic)
	if err := waitToken(context.Background(), tok, cl.cfg.ConnectTimeout); err != nil {
		return &TransportError{Op: "unsubscribe", Topic: topic, Err: err}
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	done := tok.Done()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-done:
		return tok.Error()
	case <-timer:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-geoindexer/internal/process"
	"github.com/tendant/simple-geoindexer/pkg/schema"
)

const (
	HeaderContentType = "Content-Type"
	HeaderRunID       = "Run-Id"
	HeaderState       = "State"
)

// StatePublisher sends each state snapshot as one message on the topic
// subject and waits for the server to acknowledge it.
type StatePublisher struct {
	client  *Client
	topic   string
	codec   schema.Codec
	timeout time.Duration
	logger  *slog.Logger
}

type PublisherOption func(*StatePublisher)

// WithFlushTimeout bounds how long Publish waits for the server round trip.
func WithFlushTimeout(d time.Duration) PublisherOption {
	return func(p *StatePublisher) { p.timeout = d }
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *StatePublisher) { p.logger = logger }
}

// NewStatePublisher takes ownership of client; Close drains it.
func NewStatePublisher(client *Client, topic string, codec schema.Codec, opts ...PublisherOption) (*StatePublisher, error) {
	if client == nil || client.nc == nil {
		return nil, errors.New("nats client is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if codec == nil {
		codec = schema.JSON
	}
	p := &StatePublisher{
		client:  client,
		topic:   topic,
		codec:   codec,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *StatePublisher) Publish(ctx context.Context, s schema.State) error {
	runID, _ := process.RunIDFromContext(ctx)
	msg, err := EncodeState(p.topic, p.codec, runID, s)
	if err != nil {
		return err
	}
	if err := p.client.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish on %s: %w", p.topic, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", p.topic, err)
	}
	p.logger.Debug("published state", "topic", p.topic, "state", s.Kind, "bytes", len(msg.Data))
	return nil
}

func (p *StatePublisher) Close() error {
	return p.client.Close()
}

// EncodeState frames s as a message on topic. The codec content type and the
// state kind travel as headers so subscribers can decode without guessing.
func EncodeState(topic string, codec schema.Codec, runID string, s schema.State) (*nats.Msg, error) {
	data, err := codec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode %s state: %w", s.Kind, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(HeaderContentType, codec.ContentType())
	msg.Header.Set(HeaderState, string(s.Kind))
	if runID != "" {
		msg.Header.Set(HeaderRunID, runID)
	}
	return msg, nil
}

// Update is a decoded state message.
type Update struct {
	Topic string
	RunID string
	State schema.State
}

// DecodeState reverses EncodeState. Messages without a content type header
// are decoded as JSON.
func DecodeState(msg *nats.Msg) (Update, error) {
	var contentType, runID string
	if msg.Header != nil {
		contentType = msg.Header.Get(HeaderContentType)
		runID = msg.Header.Get(HeaderRunID)
	}
	codec, err := schema.CodecForContentType(contentType)
	if err != nil {
		return Update{}, &DecodeError{Subject: msg.Subject, Err: err}
	}
	s, err := codec.Unmarshal(msg.Data)
	if err != nil {
		return Update{}, &DecodeError{Subject: msg.Subject, Err: err}
	}
	return Update{Topic: msg.Subject, RunID: runID, State: s}, nil
}

// DecodeError reports a message that could not be turned into a State.
type DecodeError struct {
	Subject string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode state on %s: %v", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StateSubscription reads state messages from a topic in order.
type StateSubscription struct {
	sub *nats.Subscription
}

// SubscribeStates subscribes to topic and waits until the server has
// registered the interest, so nothing published afterwards is missed.
func (c *Client) SubscribeStates(ctx context.Context, topic string) (*StateSubscription, error) {
	sub, err := c.nc.SubscribeSync(topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return &StateSubscription{sub: sub}, nil
}

// Next blocks until the next message arrives or ctx is done.
func (s *StateSubscription) Next(ctx context.Context) (Update, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return Update{}, err
	}
	return DecodeState(msg)
}

func (s *StateSubscription) Close() error {
	return s.sub.Unsubscribe()
}

// Source yields decoded updates; StateSubscription implements it.
type Source interface {
	Next(ctx context.Context) (Update, error)
}

// Watch passes every update to fn until a state that ends a run arrives
// (NotAvailable, Available or Failure) and returns that state. Undecodable
// messages are logged and skipped.
func Watch(ctx context.Context, src Source, logger *slog.Logger, fn func(Update) error) (schema.State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		u, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return schema.State{}, ctx.Err()
			}
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				logger.Warn("skipping undecodable state message", "err", err)
				continue
			}
			return schema.State{}, err
		}
		if err := fn(u); err != nil {
			return u.State, err
		}
		if u.State.Finished() {
			return u.State, nil
		}
	}
}

// Package natsutil wraps nats.go with JSON payloads and OpenTelemetry
// context propagation through message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier lets the OTel propagator read and write nats.Msg headers.
type headerCarrier struct{ msg *nats.Msg }

func (c headerCarrier) Get(key string) string {
	if c.msg.Header == nil {
		return ""
	}
	return c.msg.Header.Get(key)
}

func (c headerCarrier) Set(key, val string) {
	if c.msg.Header == nil {
		c.msg.Header = nats.Header{}
	}
	c.msg.Header.Set(key, val)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Header))
	for k := range c.msg.Header {
		keys = append(keys, k)
	}
	return keys
}

// Connect dials url with endless reconnects and logs connection state changes.
func Connect(url, name string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// NewMsg encodes v as JSON and injects the trace context from ctx. Callers may
// add headers before publishing.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg})
	return msg, nil
}

// Publish sends v as JSON on subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Context returns a context carrying the trace propagated in msg.
func Context(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier{msg})
}

// Handler receives a decoded payload with the raw message for header access.
type Handler[T any] func(ctx context.Context, v T, msg *nats.Msg) error

// Subscribe decodes JSON messages on subject into T. A non-empty queue makes
// it a queue subscription. Decode and handler errors go to onErr; a nil onErr
// discards them.
func Subscribe[T any](nc *nats.Conn, subject, queue string, h Handler[T], onErr func(*nats.Msg, error)) (*nats.Subscription, error) {
	report := func(msg *nats.Msg, err error) {
		if onErr != nil {
			onErr(msg, err)
		}
	}
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			report(msg, fmt.Errorf("decode %s: %w", msg.Subject, err))
			return
		}
		if err := h(Context(msg), v, msg); err != nil {
			report(msg, err)
		}
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}

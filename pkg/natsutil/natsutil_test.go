package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil/natstest"
)

type ping struct {
	BankID string `json:"bank_id"`
	N      int    `json:"n"`
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	nc := natstest.Connect(t)
	got := make(chan ping, 1)
	sub, err := Subscribe(nc, "test.ping", "", func(_ context.Context, p ping, _ *nats.Msg) error {
		got <- p
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.ping", ping{BankID: "prime_bank", N: 7}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		if p.BankID != "prime_bank" || p.N != 7 {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeReportsErrors(t *testing.T) {
	nc := natstest.Connect(t)
	errs := make(chan error, 2)
	boom := errors.New("boom")
	sub, err := Subscribe(nc, "test.err", "workers", func(context.Context, ping, *nats.Msg) error {
		return boom
	}, func(_ *nats.Msg, err error) { errs <- err })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("test.err", []byte("{not json"))
	Publish(context.Background(), nc, "test.err", ping{N: 1})

	var decodeErr, handlerErr bool
	for range 2 {
		select {
		case err := <-errs:
			if errors.Is(err, boom) {
				handlerErr = true
			} else {
				decodeErr = true
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for error")
		}
	}
	if !decodeErr || !handlerErr {
		t.Fatalf("expected both a decode and a handler error, got decode=%v handler=%v", decodeErr, handlerErr)
	}
}

func TestTraceContextPropagates(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := NewMsg(ctx, "test.trace", ping{N: 1})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
	got := trace.SpanContextFromContext(Context(msg))
	if got.TraceID() != tid {
		t.Fatalf("expected trace %s, got %s", tid, got.TraceID())
	}
}

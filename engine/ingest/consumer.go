package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil"
)

const (
	// IngestSubject carries Batch messages from scrapers.
	IngestSubject = "bank.posts.ingest"
	// DLQSubject receives batches that kept failing or could not be decoded.
	DLQSubject = "bank.posts.ingest.dlq"
	// QueueGroup spreads batches over ingest replicas.
	QueueGroup = "ingest"
	// RetryHeader counts redeliveries of a batch.
	RetryHeader = "X-Retry-Count"
	// MaxRetries is the number of failed loads before a batch goes to the DLQ.
	MaxRetries = 3
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Payload string `json:"payload"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// reply answers publishers that used a request.
type reply struct {
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Publish sends a batch to the ingest subject.
func Publish(ctx context.Context, nc *nats.Conn, b Batch) error {
	return natsutil.Publish(ctx, nc, IngestSubject, b)
}

// StartConsumer loads batches from IngestSubject in the QueueGroup. A failed
// load is republished with RetryHeader incremented; after MaxRetries, or
// when the payload does not decode, the raw message goes to DLQSubject.
func StartConsumer(nc *nats.Conn, l *Loader) (*nats.Subscription, error) {
	log := l.log

	handle := func(ctx context.Context, b Batch, msg *nats.Msg) error {
		rep, err := l.Load(ctx, b)
		if err != nil {
			retry(nc, msg, err, log)
			respond(msg, reply{Error: err.Error()}, log)
			return nil
		}
		respond(msg, reply{Report: &rep}, log)
		return nil
	}
	onErr := func(msg *nats.Msg, err error) {
		log.Error("ingest: undecodable batch", "error", err)
		deadLetter(nc, msg, err, retries(msg), log)
		respond(msg, reply{Error: err.Error()}, log)
	}
	return natsutil.Subscribe(nc, IngestSubject, QueueGroup, handle, onErr)
}

func retries(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, _ := strconv.Atoi(msg.Header.Get(RetryHeader))
	return n
}

func retry(nc *nats.Conn, msg *nats.Msg, loadErr error, log *slog.Logger) {
	n := retries(msg) + 1
	log.Error("ingest: batch failed", "error", loadErr, "retry", n)
	if n >= MaxRetries {
		deadLetter(nc, msg, loadErr, n, log)
		return
	}
	again := nats.NewMsg(IngestSubject)
	again.Data = msg.Data
	for k, v := range msg.Header {
		again.Header[k] = v
	}
	again.Header.Set(RetryHeader, strconv.Itoa(n))
	if err := nc.PublishMsg(again); err != nil {
		log.Error("ingest: retry publish failed", "error", err)
	}
}

func deadLetter(nc *nats.Conn, msg *nats.Msg, cause error, n int, log *slog.Logger) {
	data, _ := json.Marshal(dlqMessage{Payload: string(msg.Data), Error: cause.Error(), Retries: n})
	if err := nc.Publish(DLQSubject, data); err != nil {
		log.Error("ingest: DLQ publish failed", "error", err)
	}
}

func respond(msg *nats.Msg, r reply, log *slog.Logger) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(r)
	if err := msg.Respond(data); err != nil {
		log.Warn("ingest: reply failed", "error", err)
	}
}

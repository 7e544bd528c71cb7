package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			paymentPaidRow(t, "event-one", 0),
			paymentPaidRow(t, "event-two", 0),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	eventRegistry := &fakeRegistry{resolved: paymentsResolved()}
	service := newTestService(t, repo, pub, eventRegistry, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishCarriesRoutingAttributes(t *testing.T) {
	row := paymentPaidRow(t, "attrs", 0)
	dedupe := "payout:supplier-1"
	row.DedupeKey = &dedupe
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: paymentsResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs["event_type"] != string(enums.EventPaymentPaid) {
		t.Fatalf("unexpected event_type %q", attrs["event_type"])
	}
	if attrs["event_id"] != row.ID.String() {
		t.Fatalf("unexpected event_id %q", attrs["event_id"])
	}
	if attrs["aggregate_id"] != row.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id %q", attrs["aggregate_id"])
	}
	if attrs["event_version"] != "1" {
		t.Fatalf("unexpected event_version %q", attrs["event_version"])
	}
	if attrs["dedupe_key"] != dedupe {
		t.Fatalf("unexpected dedupe_key %q", attrs["dedupe_key"])
	}
	if !bytes.Equal(pub.messages[0].Data, row.Payload) {
		t.Fatalf("message body should be the stored envelope")
	}
}

func TestPublisherIsReusedPerTopic(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			paymentPaidRow(t, "one", 0),
			paymentPaidRow(t, "two", 0),
		},
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: paymentsResolved()}, &fakeDLQRepo{}, nil)
	calls := 0
	service.publisherFactory = func(topic string) publisher {
		calls++
		if topic != "payments-topic" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected publisher to be created once, got %d", calls)
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected two published rows, got %d", len(repo.published))
	}
}

func TestMissingPublisherDeadLetters(t *testing.T) {
	row := paymentPaidRow(t, "no-topic", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: paymentsResolved()}, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlqRepo.entries))
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != row.ID {
		t.Fatalf("expected row to be closed out")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := paymentPaidRow(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if entry.ErrorMessage == nil || *entry.ErrorMessage != "invalid payload" {
		t.Fatalf("unexpected error message: %v", entry.ErrorMessage)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := paymentPaidRow(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: paymentsResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal rows should not be marked for retry")
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should not report processed")
	}
}

func TestPublishFansOutToEveryTopic(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentPaidRow(t, "fanout", 0)}}
	resolved := paymentsResolved()
	resolved.Descriptor.Topics = []string{"payments-topic", "analytics-topic"}
	pubs := map[string]*fakePublisher{
		"payments-topic":  {results: []publishResult{fakePublishResult{}}},
		"analytics-topic": {results: []publishResult{fakePublishResult{}}},
	}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.publisherFactory = func(topic string) publisher { return pubs[topic] }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	for topic, pub := range pubs {
		if len(pub.messages) != 1 {
			t.Fatalf("expected one message on %s, got %d", topic, len(pub.messages))
		}
	}
	if len(repo.published) != 1 {
		t.Fatalf("expected row published once, got %d", len(repo.published))
	}

	service.Close()
	for topic, pub := range pubs {
		if !pub.stopped {
			t.Fatalf("publisher for %s not stopped", topic)
		}
	}
}

func TestPartialFanOutFailureRetriesRow(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentPaidRow(t, "partial", 0)}}
	resolved := paymentsResolved()
	resolved.Descriptor.Topics = []string{"payments-topic", "analytics-topic"}
	pubs := map[string]*fakePublisher{
		"payments-topic":  {results: []publishResult{fakePublishResult{}}},
		"analytics-topic": {results: []publishResult{fakePublishResult{err: errors.New("unavailable")}}},
	}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.publisherFactory = func(topic string) publisher { return pubs[topic] }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.failed) != 1 || len(repo.published) != 0 {
		t.Fatalf("expected row marked for retry, failed=%d published=%d", len(repo.failed), len(repo.published))
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, maxBackoff); got != 2*time.Second {
		t.Fatalf("unexpected backoff %s", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap, got %s", got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of window: %s", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func paymentPaidRow(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, eventID),
		AttemptCount:  attempts,
		CreatedAt:     time.Now(),
	}
}

func paymentsResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType: enums.EventPaymentPaid,
			Topics:    []string{"payments-topic"},
		},
		Envelope: outbox.PayloadEnvelope{Version: 1},
		Payload:  &payloads.PaymentPaidEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	results  []publishResult
	messages []*gcppubsub.Message
	stopped  bool
}

func (f *fakePublisher) Stop() { f.stopped = true }

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

type stubPublisher struct {
	mu       sync.Mutex
	err      error
	sequence []error
	events   []domain.OutboxMessage
	attempts int
}

func (p *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if len(p.sequence) > 0 {
		err := p.sequence[0]
		p.sequence = p.sequence[1:]
		if err != nil {
			return err
		}
		p.events = append(p.events, event)
		return nil
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *stubPublisher) published() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.events...)
}

func enqueue(t *testing.T, repo *memory.OutboxRepository, orderID, payload string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(payload),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func testConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, BatchSize: 10, MaxAttempts: 3}
}

func TestWorkerMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	first := enqueue(t, repo, "order-1", `{"status":"CREATED"}`)
	second := enqueue(t, repo, "order-2", `{"status":"CREATED"}`)
	publisher := &stubPublisher{}

	sent := NewWorker(repo, publisher, nil, testConfig(), nil).ProcessOnce(context.Background())

	if sent != 2 {
		t.Fatalf("expected 2 sent, got %d", sent)
	}
	statuses := repo.All()
	if statuses[first.ID] != "sent" || statuses[second.ID] != "sent" {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	events := publisher.published()
	if len(events) != 2 || events[0].AggregateID != "order-1" {
		t.Fatalf("expected events in enqueue order, got %+v", events)
	}
}

func TestWorkerSendsToDLQAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-2", `{"status":"CANCELLED"}`)
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}

	sent := NewWorker(repo, publisher, dlq, testConfig(), nil).ProcessOnce(context.Background())

	if sent != 0 {
		t.Fatalf("expected nothing sent, got %d", sent)
	}
	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if status := repo.All()[msg.ID]; status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}

	letters := dlq.published()
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	var letter DeadLetter
	if err := json.Unmarshal(letters[0].Payload, &letter); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if letter.OutboxID != msg.ID || letter.AggregateID != "order-2" || letter.PublishError == "" {
		t.Fatalf("unexpected dead letter: %+v", letter)
	}
	if string(letter.Payload) != `{"status":"CANCELLED"}` {
		t.Fatalf("original payload not preserved: %s", letter.Payload)
	}
}

func TestWorkerSucceedsAfterRetry(t *testing.T) {
	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-3", `{}`)
	publisher := &stubPublisher{sequence: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	NewWorker(repo, publisher, nil, testConfig(), nil).ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if status := repo.All()[msg.ID]; status != "sent" {
		t.Fatalf("expected sent, got %s", status)
	}
}

func TestWorkerStopsOnCancelledContext(t *testing.T) {
	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-4", `{}`)
	publisher := &stubPublisher{err: errors.New("broker down")}
	cfg := testConfig()
	cfg.RetryBaseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(repo, publisher, nil, cfg, nil).ProcessOnce(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
	if status := repo.All()[msg.ID]; status != "pending" {
		t.Fatalf("event must stay pending, got %s", status)
	}
}

func TestWorkerRunUntilCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	msg := enqueue(t, repo, "order-5", `{}`)
	deadline := time.Now().Add(time.Second)
	for repo.All()[msg.ID] != "sent" {
		if time.Now().After(deadline) {
			t.Fatal("event was not published by the polling loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

func TestBackoffDoubles(t *testing.T) {
	w := NewWorker(nil, nil, nil, Config{RetryBaseDelay: 10 * time.Millisecond}, nil)

	cases := map[int]time.Duration{1: 10 * time.Millisecond, 2: 20 * time.Millisecond, 4: 80 * time.Millisecond}
	for attempt, want := range cases {
		if got := w.backoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
	if got := w.backoff(100); got <= 0 {
		t.Fatalf("backoff overflowed: %v", got)
	}
}

func TestRunWithoutPublisherIsNoop(t *testing.T) {
	if err := NewWorker(memory.NewOutboxRepository(), nil, nil, Config{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
)

// Defaults for the COLD extraction path.
const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 16
	maxEventAttempts    = 3
)

// Consumer is the COLD extraction path: it drains the persisted queue and,
// per event, redacts PII, classifies the utterance, deduplicates by content
// hash, embeds, and upserts the resulting record. It is the only writer to
// the index.
//
// Events for one user are processed in enqueue order because Dequeue returns
// them oldest first and the consumer handles a batch sequentially.
type Consumer struct {
	queue    Queue
	index    Index
	embedder embeddings.Provider
	redactor *Redactor
	decider  *Decider
	logger   *slog.Logger

	interval time.Duration
	batch    int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollInterval sets how often the queue is polled when idle.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithBatchSize sets how many events one poll drains at most.
func WithBatchSize(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer constructs a COLD-path Consumer. Call Start to begin draining
// the queue and Stop to shut down.
func NewConsumer(queue Queue, index Index, embedder embeddings.Provider, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:    queue,
		index:    index,
		embedder: embedder,
		redactor: NewRedactor(),
		decider:  NewDecider(),
		logger:   slog.Default(),
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the consumer loop in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop signals the loop to exit and waits for in-flight work to finish.
// Safe to call more than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

// drain processes one batch of pending events.
func (c *Consumer) drain(ctx context.Context) {
	events, err := c.queue.Dequeue(ctx, c.batch)
	if err != nil {
		c.logger.Warn("memory: queue dequeue failed", "error", err)
		return
	}
	for _, ev := range events {
		if err := c.Process(ctx, ev); err != nil {
			c.logger.Warn("memory: event processing failed",
				"event_id", ev.ID, "attempts", ev.Attempts+1, "error", err)
			if ev.Attempts+1 >= maxEventAttempts {
				c.logger.Error("memory: dropping event after repeated failures",
					"event_id", ev.ID, "interaction_id", ev.InteractionID)
				if ackErr := c.queue.Ack(ctx, ev.ID); ackErr != nil {
					c.logger.Warn("memory: ack of dropped event failed", "error", ackErr)
				}
				continue
			}
			if nackErr := c.queue.Nack(ctx, ev.ID); nackErr != nil {
				c.logger.Warn("memory: nack failed", "error", nackErr)
			}
			continue
		}
		if err := c.queue.Ack(ctx, ev.ID); err != nil {
			c.logger.Warn("memory: ack failed", "event_id", ev.ID, "error", err)
		}
	}
}

// Process runs the full extraction pipeline for one event. It is exported so
// callers can replay a single event synchronously (e.g. admin tooling).
// Processing is idempotent: the record ID is derived from the event content,
// so a replay after a crashed Ack upserts the same row.
func (c *Consumer) Process(ctx context.Context, ev Event) error {
	redacted, categories := c.redactor.Redact(ev.Text)
	if len(categories) > 0 {
		c.logger.Debug("memory: redacted PII", "event_id", ev.ID, "categories", categories)
	}

	dec := c.decider.Decide(redacted)
	if !dec.Store {
		return nil
	}

	hash := ContentHash(redacted)
	vec, err := c.embedder.Embed(ctx, redacted)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}

	now := ev.EnqueuedAt
	if now.IsZero() {
		now = time.Now()
	}
	rec := Record{
		ID:          RecordID(ev.UserID, dec.Type, hash, now),
		OwnerID:     ev.UserID,
		Type:        dec.Type,
		Text:        redacted,
		Tags:        dec.Tags,
		Confidence:  dec.Confidence,
		Source:      SourceConversation,
		Scope:       ScopePrivate,
		ContentHash: hash,
		Embedding:   vec,
		CreatedAt:   now,
		LastSeen:    now,
	}
	if dec.Type == TypeCorrection {
		rec.Supersedes = c.supersededBy(ctx, ev.UserID, vec, rec.ID)
	}

	created, err := c.index.Upsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("memory: upsert: %w", err)
	}
	if created {
		c.logger.Debug("memory: stored record",
			"record_id", rec.ID, "type", rec.Type, "user_id", rec.OwnerID)
	}
	return nil
}

// supersededBy locates the record a correction replaces: the owner's
// nearest live record by dense similarity. Retrieval resolves the chain at
// query time, so the original stays in the index, shadowed. No plausible
// target leaves the correction standalone.
func (c *Consumer) supersededBy(ctx context.Context, ownerID string, vec []float32, selfID string) string {
	ranked, err := c.index.DenseSearch(ctx, vec, 5, AccessFilter{OwnerID: ownerID})
	if err != nil {
		c.logger.Warn("memory: supersede target lookup failed", "error", err)
		return ""
	}
	for _, r := range ranked {
		if r.Record.OwnerID == ownerID && r.Record.ID != selfID {
			return r.Record.ID
		}
	}
	return ""
}

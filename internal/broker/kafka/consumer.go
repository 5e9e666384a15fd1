package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a realtime feed topic and commits each message only after its handler
// succeeded.
type Consumer struct {
	r messageReader

	fetched       atomic.Int64
	committed     atomic.Int64
	handlerErrors atomic.Int64
	lastOffset    atomic.Int64
	lastAtUnix    atomic.Int64
}

// NewConsumer joins groupID on topic. The feed is live state, so a group without a
// committed offset starts at the end of the topic.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.LastOffset,
		MaxWait:           500 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	c := &Consumer{r: r}
	c.lastOffset.Store(-1)
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done, the reader fails or handler returns an error.
// A failed message stays uncommitted and is redelivered to the group.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		c.fetched.Add(1)

		if err := handler(msg.Key, msg.Value); err != nil {
			c.handlerErrors.Add(1)
			return errors.Wrapf(err, "handle %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "commit message")
		}
		c.committed.Add(1)
		c.lastOffset.Store(msg.Offset)
		c.lastAtUnix.Store(time.Now().UTC().Unix())
	}
}

type ConsumerStats struct {
	Fetched       int64      `json:"fetched"`
	Committed     int64      `json:"committed"`
	HandlerErrors int64      `json:"handlerErrors"`
	LastOffset    int64      `json:"lastOffset"`
	LastCommitAt  *time.Time `json:"lastCommitAt,omitempty"`
}

func (c *Consumer) Stats() ConsumerStats {
	st := ConsumerStats{
		Fetched:       c.fetched.Load(),
		Committed:     c.committed.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		LastOffset:    c.lastOffset.Load(),
	}
	if ts := c.lastAtUnix.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		st.LastCommitAt = &t
	}
	return st
}

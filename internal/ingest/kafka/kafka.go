// Package kafka adapts a Kafka topic of serialized trace reports into
// the store's blocking ingest queue (spec.md §4's "external receiver"
// collaborator). Each message is decompressed if snappy-framed and
// handed to store.Submit as a single raw report string.
package kafka

import (
	"context"
	"time"

	"github.com/xtrace/reportstore/internal/config"

	"github.com/IBM/sarama"
	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
)

// Submitter is the subset of *store.Store this adapter depends on,
// kept narrow so it can be faked in tests without constructing a full
// store.
type Submitter interface {
	Submit(ctx context.Context, raw string) error
}

// Consumer drives a sarama consumer group, handing each message off to
// a Submitter. Offsets are committed only after Submit succeeds, so a
// crash before Submit redelivers the message rather than losing it.
type Consumer struct {
	cfg    config.KafkaIngestConfig
	group  sarama.ConsumerGroup
	store  Submitter
	logger *logrus.Logger
}

func New(cfg config.KafkaIngestConfig, store Submitter, logger *logrus.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{cfg: cfg, group: group, store: store, logger: logger}, nil
}

// Run joins the consumer group and blocks until ctx is cancelled,
// rejoining after a rebalance as sarama.ConsumerGroup.Consume requires.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &groupHandler{store: c.store, logger: c.logger}

	go func() {
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				if c.logger != nil {
					c.logger.WithFields(logrus.Fields{"component": "kafka-ingest"}).Warn("consumer group error: " + err.Error())
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{"component": "kafka-ingest"}).Warn("consume failed, retrying: " + err.Error())
			}
			time.Sleep(time.Second)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	store  Submitter
	logger *logrus.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			raw := decode(msg.Value)
			if err := h.store.Submit(sess.Context(), raw); err != nil {
				if h.logger != nil {
					h.logger.WithFields(logrus.Fields{"component": "kafka-ingest"}).Warn("submit failed: " + err.Error())
				}
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// decode transparently unwraps a snappy-compressed payload; an
// uncompressed message (snappy.Decode on non-snappy data) falls back
// to the raw bytes unchanged.
func decode(payload []byte) string {
	if decoded, err := snappy.Decode(nil, payload); err == nil {
		return string(decoded)
	}
	return string(payload)
}

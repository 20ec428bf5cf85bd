package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"basin/internal/buffer"
	"basin/internal/engine"
	"basin/internal/logging"
)

type SaramaDriver struct {
	cfg   Config
	eng   Engine
	cl    sarama.Client
	group sarama.ConsumerGroup
}

func (d *SaramaDriver) Configure(config Config, eng Engine) error {
	if err := config.validate(); err != nil {
		return err
	}
	d.cfg, d.eng = config, eng

	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) Run(ctx context.Context) error {
	handler := &groupHandler{eng: d.eng}

	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaDriver) Close() error {
	_ = d.group.Close()
	return d.cl.Close()
}

type groupHandler struct {
	eng Engine
}

// Setup assigns every claimed partition before consumption starts. A failed
// assignment is logged and left unassigned; its claim loop then sees
// ErrNotAssigned on the first record and parks itself without touching the
// other partitions.
func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	for topic, parts := range sess.Claims() {
		for _, part := range parts {
			key := buffer.PartitionKey{Topic: topic, Partition: part}
			if err := h.eng.Assign(sess.Context(), key); err != nil {
				logging.L().Error("sarama-driver: assign failed", "partition", key.String(), "error", err)
			}
		}
	}
	return nil
}

// Cleanup runs after all claim loops have returned, on rebalance and on
// shutdown. Unassign flushes what it can; progress lost past the confirmed
// offset is redelivered to whoever claims the partition next.
func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	for topic, parts := range sess.Claims() {
		for _, part := range parts {
			key := buffer.PartitionKey{Topic: topic, Partition: part}
			err := h.eng.Unassign(context.Background(), key)
			switch {
			case errors.Is(err, engine.ErrLostProgress):
				logging.L().Warn("sarama-driver: revoked with unconfirmed records, they will be redelivered",
					"partition", key.String())
			case err != nil:
				logging.L().Error("sarama-driver: unassign failed", "partition", key.String(), "error", err)
			}
		}
	}
	return nil
}

// ConsumeClaim feeds one partition. An engine error means the partition is
// halted (failed sticky or never assigned); returning nil parks this claim
// until the next rebalance while the rest of the session keeps running.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	key := buffer.PartitionKey{Topic: claim.Topic(), Partition: claim.Partition()}
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.eng.Accept(sess.Context(), key, toRecord(msg)); err != nil {
				logging.L().Error("sarama-driver: partition halted, leaving claim",
					"partition", key.String(), "error", err)
				return nil
			}
			if off, ok := h.eng.CommitOffset(key); ok {
				sess.MarkOffset(claim.Topic(), claim.Partition(), off, "")
			}
		}
	}
}

func toRecord(msg *sarama.ConsumerMessage) buffer.Record {
	return buffer.Record{
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   toHeaderMap(msg.Headers),
		Timestamp: msg.Timestamp,
		Size:      recordSize(msg),
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}

// recordSize approximates the buffered footprint of one message.
func recordSize(msg *sarama.ConsumerMessage) int64 {
	n := int64(len(msg.Key) + len(msg.Value))
	for _, h := range msg.Headers {
		n += int64(len(h.Key) + len(h.Value))
	}
	return n
}

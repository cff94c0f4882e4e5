package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"talkback/backend/internal/models"

	"github.com/Shopify/sarama"
)

// KafkaSink publishes events to a Kafka topic keyed by message id, so every
// event of one message lands on the same partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func kafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = "talkback"

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	p, err := sarama.NewSyncProducer(brokers, kafkaConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, event models.MessageCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(event.MessageID), 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(event.EventID)},
		},
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

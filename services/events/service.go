package events

import (
	"context"
	"encoding/json"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const topic = "license-lifecycle-events"

type Service struct {
	node     *snowflake.Node
	producer *kafka.Producer

	events repository.Repository[LicenseEvent]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Producer *kafka.Producer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		node:     p.Node,
		producer: p.Producer,

		events: repository.ProvideStore[LicenseEvent](p.DB),
	}
}

// NewProducer builds the kafka producer from config. Missing broker config
// disables the bus rather than failing startup: event emission is
// best-effort by contract.
func NewProducer(lc fx.Lifecycle, cfg *config.Config) *kafka.Producer {
	if cfg.Kafka.Addrs == "" {
		zap.L().Warn("[Kafka] no brokers configured, event bus disabled")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Addrs,
	})
	if err != nil {
		zap.L().Error("[Kafka] failed to create producer", zap.Error(err))
		return nil
	}

	go func() {
		for e := range producer.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				zap.L().Error("[Kafka] delivery failed",
					zap.String("key", string(m.Key)),
					zap.Error(m.TopicPartition.Error))
			}
		}
	}()

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			producer.Flush(5000)
			producer.Close()
			return nil
		},
	})

	return producer
}

// Track records the event and publishes it to the bus. Failures are logged
// and swallowed: a committed license transition is never unwound by its
// event emission.
func (s *Service) Track(ctx context.Context, eventName, licenseID string, properties map[string]string) {
	props, err := json.Marshal(properties)
	if err != nil {
		zap.L().Error("failed to marshal event properties", zap.Error(err))
		return
	}

	event := &LicenseEvent{
		ID:         s.node.Generate().String(),
		LicenseID:  licenseID,
		EventName:  eventName,
		Properties: props,
	}
	if err := s.events.Create(ctx, event); err != nil {
		zap.L().Error("failed to record license event",
			zap.String("event", eventName),
			zap.String("license_id", licenseID),
			zap.Error(err))
	}

	if s.producer == nil {
		return
	}

	value, err := json.Marshal(map[string]interface{}{
		"event_name": eventName,
		"license_id": licenseID,
		"properties": properties,
	})
	if err != nil {
		return
	}

	t := topic
	if err := s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t, Partition: kafka.PartitionAny},
		Key:            []byte(licenseID),
		Value:          value,
	}, nil); err != nil {
		zap.L().Error("[Kafka] failed to produce event",
			zap.String("event", eventName),
			zap.Error(err))
	}
}

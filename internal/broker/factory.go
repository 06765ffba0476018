package broker

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/config"
)

// NewDialer picks the transport named by BROKER_DRIVER. The memory driver
// only links producers and consumers living in the same process.
func NewDialer(cfg *config.Config, logger zerolog.Logger) (Dialer, error) {
	switch cfg.BrokerDriver {
	case "amqp":
		logger.Info().Str("driver", "amqp").Msg("using RabbitMQ broker")
		return NewAMQPDialer(cfg.RabbitMQURL)
	case "kafka":
		brokers := cfg.KafkaBrokerList()
		logger.Info().
			Str("driver", "kafka").
			Strs("brokers", brokers).
			Str("group", cfg.KafkaConsumerGroup).
			Msg("using Kafka broker")
		return NewKafkaDialer(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		})
	case "memory":
		logger.Info().Str("driver", "memory").Msg("using in-process broker")
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver: %s", cfg.BrokerDriver)
	}
}

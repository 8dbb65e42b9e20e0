package publish

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"insiderwatch/internal/config"
	"insiderwatch/internal/model"
)

// StartKafka forwards alert records from the subscription channel to a Kafka
// topic so downstream SOC tooling can consume notifications. Messages are
// keyed by record id.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, in <-chan model.AlertRecord, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka publish disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka publish enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	go func() {
		defer writer.Close()
		for {
			select {
			case rec, ok := <-in:
				if !ok {
					return
				}
				value, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				if err := writer.WriteMessages(ctx, kafka.Message{
					Key:   []byte(rec.ID),
					Value: value,
				}); err != nil {
					if ctx.Err() != nil {
						return
					}
					if logger != nil {
						logger.Warn("kafka write error", "err", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

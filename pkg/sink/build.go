package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngoyal88/reqlog/pkg/config"
)

// FromConfig builds the configured sink, wrapped in a circuit breaker when
// enabled. The returned close func releases driver resources.
func FromConfig(ctx context.Context, cfg config.SinkConfig) (Inserter, func(), error) {
	var (
		in      Inserter
		closeFn = func() {}
	)

	switch strings.ToLower(cfg.Type) {
	case "", "log":
		in = LogOnly{}
	case "mongo":
		m, err := NewMongo(ctx, MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, nil, err
		}
		in = m
		closeFn = func() { m.Close(context.Background()) }
	case "kafka":
		k, err := NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		in = k
		closeFn = func() { k.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}

	if cfg.Breaker.Enabled {
		in = NewBreaker(in, BreakerConfig{
			Name:        "sink-" + cfg.Type,
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
		})
	}
	return in, closeFn, nil
}

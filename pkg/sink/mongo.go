package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

// MongoConfig points the sink at a collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type manyInserter interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// Mongo inserts whole batches into a MongoDB collection.
type Mongo struct {
	coll   manyInserter
	client *mongo.Client
}

// NewMongo connects, pings, and targets cfg.Collection.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.Collection == "" {
		cfg.Collection = "logs"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	return &Mongo{
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		client: client,
	}, nil
}

func newMongoWithCollection(coll manyInserter) *Mongo {
	return &Mongo{coll: coll}
}

// Insert writes all entries with a single ordered InsertMany.
func (m *Mongo) Insert(ctx context.Context, entries []storage.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, len(entries))
	for i := range entries {
		docs[i] = entries[i]
	}

	res, err := m.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("inserting %d logs: %w", len(entries), err)
	}
	if res != nil && len(res.InsertedIDs) != len(entries) {
		return fmt.Errorf("inserted %d of %d logs", len(res.InsertedIDs), len(entries))
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

// MongoCatalog stores book records in a MongoDB collection.
type MongoCatalog struct {
	client  *mongo.Client
	books   *mongo.Collection
	timeout time.Duration
	limit   int64
	log     logger.Logger
}

func NewMongoCatalog(cfg *config.CatalogConfig, log logger.Logger) (*MongoCatalog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	c := &MongoCatalog{
		client:  client,
		books:   client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		limit:   int64(cfg.QueryLimit),
		log:     log,
	}
	c.createIndexes()
	return c, nil
}

func (c *MongoCatalog) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "harvestState", Value: 1}, {Key: "inCirculation", Value: 1}}},
		{Keys: bson.D{{Key: "harvestStartedAt", Value: 1}}},
	})
	if err != nil {
		c.log.Warn("failed to create catalog indexes", logger.Error(err))
	}
}

func (c *MongoCatalog) Query(ctx context.Context, filter Filter) ([]models.DocumentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "lastUploaded", Value: 1}})
	if c.limit > 0 {
		opts.SetLimit(c.limit)
	}
	cursor, err := c.books.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.DocumentRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode catalog records: %w", err)
	}
	return records, nil
}

func (c *MongoCatalog) Get(ctx context.Context, id string) (*models.DocumentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rec models.DocumentRecord
	err := c.books.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load book %s: %w", id, err)
	}
	return &rec, nil
}

func (c *MongoCatalog) Update(ctx context.Context, id string, fields Fields) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.books.UpdateByID(ctx, id, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("failed to update book %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return nil
}

func (c *MongoCatalog) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

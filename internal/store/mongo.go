package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection is the collection used by MongoBackend.
const MongoCollection = "kv_store"

type kvDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoBackend stores one document per key.
type MongoBackend struct {
	coll *mongo.Collection
}

// NewMongoBackend uses the kv_store collection of db.
func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{coll: db.Collection(MongoCollection)}
}

func (m *MongoBackend) Put(ctx context.Context, key string, value []byte) error {
	doc := kvDocument{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc kvDocument
	if err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc.Value, true, nil
}

func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

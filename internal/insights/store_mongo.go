package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const insightsCollection = "feedback_insights"

type MongoDocumentStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoDocumentStore(client *mongo.Client, database string) *MongoDocumentStore {
	return &MongoDocumentStore{
		coll: client.Database(database).Collection(insightsCollection),
		now:  time.Now,
	}
}

func (s *MongoDocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "project_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create feedback_insights index: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) Upsert(ctx context.Context, doc Document) error {
	doc.CreatedAt = nil
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"project_id": doc.ProjectID},
		bson.M{
			"$set":         doc,
			"$setOnInsert": bson.M{"created_at": s.now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert insights for project %d: %w", doc.ProjectID, err)
	}
	return nil
}

func (s *MongoDocumentStore) Get(ctx context.Context, projectID int64) (Document, error) {
	var doc Document
	err := s.coll.FindOne(ctx, bson.M{"project_id": projectID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get insights for project %d: %w", projectID, err)
	}
	return doc, nil
}

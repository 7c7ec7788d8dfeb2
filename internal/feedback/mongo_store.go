package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const rawFeedbackCollection = "raw_feedback"

type itemDoc struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	ProjectID           int64              `bson:"project_id"`
	CommentID           *int64             `bson:"comment_id"`
	UserID              *int64             `bson:"user_id"`
	Text                string             `bson:"text"`
	Rating              *int               `bson:"rating"`
	State               string             `bson:"processing_state"`
	ProcessingStartedAt *time.Time         `bson:"processing_started_at"`
	Attempts            int                `bson:"attempts"`
	LastError           string             `bson:"last_error,omitempty"`
	Sentiment           *SentimentSummary  `bson:"sentiment"`
	CreatedAt           time.Time          `bson:"created_at"`
	QueuedAt            time.Time          `bson:"queued_at"`
}

func (d itemDoc) toItem() (Item, error) {
	state, err := ParseState(d.State)
	if err != nil {
		return Item{}, err
	}
	return Item{
		ID:                  d.ID.Hex(),
		ProjectID:           d.ProjectID,
		CommentID:           d.CommentID,
		UserID:              d.UserID,
		Text:                d.Text,
		Rating:              d.Rating,
		State:               state,
		ProcessingStartedAt: utcPtr(d.ProcessingStartedAt),
		Attempts:            d.Attempts,
		LastError:           d.LastError,
		Sentiment:           d.Sentiment,
		CreatedAt:           d.CreatedAt.UTC(),
	}, nil
}

type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo dials and pings the server. The returned client is owned by
// the caller and shared by every Mongo-backed store in the process.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(rawFeedbackCollection),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "processing_state", Value: 1}, {Key: "queued_at", Value: 1}}},
		{Keys: bson.D{{Key: "processing_state", Value: 1}, {Key: "processing_started_at", Value: 1}}},
		{Keys: bson.D{{Key: "project_id", Value: 1}}},
		{Keys: bson.D{{Key: "comment_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create raw_feedback indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, in NewItem) (Item, error) {
	now := claimTime(time.Now())
	doc := itemDoc{
		ID:        primitive.NewObjectID(),
		ProjectID: in.ProjectID,
		CommentID: in.CommentID,
		UserID:    in.UserID,
		Text:      in.Text,
		Rating:    in.Rating,
		State:     string(Unprocessed),
		CreatedAt: now,
		QueuedAt:  now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return Item{}, fmt.Errorf("insert feedback item: %w", err)
	}
	return doc.toItem()
}

func claimableFilter(filter ClaimFilter) bson.M {
	q := bson.M{
		"$or": bson.A{
			bson.M{"processing_state": string(Unprocessed)},
			bson.M{"processing_state": string(Processing), "processing_started_at": bson.M{"$lt": filter.StaleBefore}},
			bson.M{"processing_state": string(Processing), "processing_started_at": nil},
		},
	}
	if filter.CommentID != nil {
		q["comment_id"] = *filter.CommentID
	}
	return q
}

// claimOrder hands out the longest-waiting item first. Revert moves
// queued_at forward so a failing item waits behind everything already queued.
var claimOrder = bson.D{{Key: "queued_at", Value: 1}, {Key: "_id", Value: 1}}

func (s *MongoStore) ClaimOne(ctx context.Context, filter ClaimFilter) (*Item, error) {
	update := bson.M{
		"$set": bson.M{
			"processing_state":      string(Processing),
			"processing_started_at": claimTime(filter.Now),
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(claimOrder)

	raw, err := s.coll.FindOneAndUpdate(ctx, claimableFilter(filter), update, opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim feedback item: %w", err)
	}

	var doc itemDoc
	decodeErr := bson.Unmarshal(raw, &doc)
	var item Item
	if decodeErr == nil {
		item, decodeErr = doc.toItem()
	} else {
		decodeErr = fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}
	if decodeErr != nil {
		id, _ := raw.Lookup("_id").ObjectIDOK()
		if qerr := s.quarantineRaw(ctx, id, decodeErr.Error()); qerr != nil {
			return nil, errors.Join(decodeErr, qerr)
		}
		return nil, fmt.Errorf("claimed item %s quarantined: %w", id.Hex(), decodeErr)
	}
	return &item, nil
}

func (s *MongoStore) Commit(ctx context.Context, item Item, summary SentimentSummary) error {
	summary.ProcessedAt = summary.ProcessedAt.UTC().Truncate(time.Millisecond)
	return s.settle(ctx, item, Processed, bson.M{
		"processing_state":      string(Processed),
		"processing_started_at": nil,
		"sentiment":             summary,
		"last_error":            "",
	})
}

func (s *MongoStore) Revert(ctx context.Context, item Item, reason string) error {
	return s.settle(ctx, item, Unprocessed, revertSet(reason, time.Now()))
}

func revertSet(reason string, now time.Time) bson.M {
	return bson.M{
		"processing_state":      string(Unprocessed),
		"processing_started_at": nil,
		"sentiment":             nil,
		"last_error":            reason,
		"queued_at":             claimTime(now),
	}
}

func (s *MongoStore) Quarantine(ctx context.Context, item Item, reason string) error {
	return s.settle(ctx, item, Quarantined, bson.M{
		"processing_state":      string(Quarantined),
		"processing_started_at": nil,
		"last_error":            reason,
	})
}

// settle applies set only while the document is still held by item's claim.
func (s *MongoStore) settle(ctx context.Context, item Item, next State, set bson.M) error {
	if !item.State.CanTransition(next) {
		return fmt.Errorf("settle %s: %w: %s to %s", item.ID, ErrInvalidTransition, item.State, next)
	}
	if item.ProcessingStartedAt == nil {
		return fmt.Errorf("settle %s: %w", item.ID, ErrClaimLost)
	}
	oid, err := primitive.ObjectIDFromHex(item.ID)
	if err != nil {
		return fmt.Errorf("%w: id %q", ErrMalformed, item.ID)
	}
	res, err := s.coll.UpdateOne(ctx, settleFilter(oid, *item.ProcessingStartedAt), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update feedback item %s: %w", item.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update feedback item %s: %w", item.ID, ErrClaimLost)
	}
	return nil
}

func settleFilter(id primitive.ObjectID, claimedAt time.Time) bson.M {
	return bson.M{
		"_id":                   id,
		"processing_state":      string(Processing),
		"processing_started_at": claimedAt.UTC(),
	}
}

func (s *MongoStore) quarantineRaw(ctx context.Context, id primitive.ObjectID, reason string) error {
	if id.IsZero() {
		return fmt.Errorf("%w: document without _id", ErrMalformed)
	}
	_, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"processing_state":      string(Quarantined),
		"processing_started_at": nil,
		"last_error":            reason,
	}})
	if err != nil {
		return fmt.Errorf("quarantine feedback item %s: %w", id.Hex(), err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Item, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Item{}, ErrNotFound
	}
	var doc itemDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get feedback item: %w", err)
	}
	return doc.toItem()
}

func (s *MongoStore) ListProcessedByProject(ctx context.Context, projectID int64) ([]Item, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"project_id": projectID, "processing_state": string(Processed)},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list project feedback: %w", err)
	}
	defer cur.Close(ctx)

	var items []Item
	for cur.Next(ctx) {
		var doc itemDoc
		if err := cur.Decode(&doc); err != nil {
			slog.WarnContext(ctx, "skipping malformed feedback item", "error", err)
			continue
		}
		item, err := doc.toItem()
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed feedback item", "feedback_id", doc.ID.Hex(), "error", err)
			continue
		}
		items = append(items, item)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate project feedback: %w", err)
	}
	return items, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

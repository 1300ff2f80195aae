// Package tagging is the MongoDB adapter for image tags and captions.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionName is the collection holding one document per uploaded image.
const CollectionName = "image_tags"

// ImageTags is the document stored per image, keyed by its object key.
type ImageTags struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	S3Key     string    `bson:"s3_key" json:"s3_key"`
	Tags      []string  `bson:"tags" json:"tags"`
	Caption   string    `bson:"caption" json:"caption"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type Store struct {
	coll collection
}

func New(coll collection) *Store {
	if coll == nil {
		panic("mongo collection is required")
	}
	return &Store{coll: coll}
}

// InsertOne writes doc. Writing the same object key again replaces tags, owner and
// timestamp but keeps a caption written in the meantime, so redelivery never duplicates.
func (s *Store) InsertOne(ctx context.Context, doc ImageTags) error {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	update := bson.M{
		"$set": bson.M{
			"user_id":    doc.UserID,
			"tags":       tags,
			"created_at": doc.CreatedAt.UTC(),
		},
		"$setOnInsert": bson.M{
			"caption": doc.Caption,
		},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"s3_key": doc.S3Key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("insert image tags s3_key=%q: %w", doc.S3Key, err)
	}
	return nil
}

// UpdateCaption sets the caption of the document for s3Key. A missing document is not an error.
func (s *Store) UpdateCaption(ctx context.Context, s3Key, caption string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx, bson.M{"s3_key": s3Key}, bson.M{"$set": bson.M{"caption": caption}})
	if err != nil {
		return false, fmt.Errorf("update caption s3_key=%q: %w", s3Key, err)
	}
	return res != nil && res.MatchedCount > 0, nil
}

func (s *Store) DeleteOne(ctx context.Context, s3Key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"s3_key": s3Key}); err != nil {
		return fmt.Errorf("delete image tags s3_key=%q: %w", s3Key, err)
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, userID int64) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("delete image tags user_id=%d: %w", userID, err)
	}
	if res == nil {
		return 0, nil
	}
	return res.DeletedCount, nil
}

// Find returns a user's documents, newest first.
func (s *Store) Find(ctx context.Context, userID int64) ([]ImageTags, error) {
	cur, err := s.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find image tags user_id=%d: %w", userID, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	docs := []ImageTags{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode image tags user_id=%d: %w", userID, err)
	}
	return docs, nil
}

// Connect opens the shared client and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique object key index the upsert relies on and the
// per-user listing index.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "s3_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create image_tags indexes: %w", err)
	}
	return nil
}

func ReadyCheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("mongo not configured")
		}
		return client.Ping(ctx, readpref.Primary())
	}
}

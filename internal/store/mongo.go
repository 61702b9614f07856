package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const duplicateKey = 11000

type mongoRevision struct {
	ID       string    `bson:"_id"`
	Doc      string    `bson:"doc"`
	Locale   string    `bson:"locale"`
	Content  string    `bson:"content"`
	Version  string    `bson:"version"`
	Modified time.Time `bson:"modified"`
	Author   string    `bson:"author"`
}

func (m mongoRevision) revision() Revision {
	return Revision{
		Ref:      Ref{Doc: m.Doc, Locale: m.Locale},
		Content:  m.Content,
		Version:  m.Version,
		Modified: m.Modified,
		Author:   m.Author,
	}
}

type Mongo struct {
	client *mongo.Client
	docs   *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{
		client: client,
		docs:   client.Database(database).Collection("documents"),
	}, nil
}

func (m *Mongo) Save(ctx context.Context, ref Ref, content, author, baseVersion string) (Revision, error) {
	id := ref.String()

	if baseVersion == "" {
		rev := next(nil, ref, content, author)
		_, err := m.docs.InsertOne(ctx, mongoRevision{
			ID:       id,
			Doc:      ref.Doc,
			Locale:   ref.Locale,
			Content:  rev.Content,
			Version:  rev.Version,
			Modified: rev.Modified,
			Author:   rev.Author,
		})
		if isDuplicateKey(err) {
			return Revision{}, fmt.Errorf("%v: already exists: %w", ref, ErrVersionConflict)
		}
		if err != nil {
			return Revision{}, err
		}
		return rev, nil
	}

	rev := next(&Revision{Version: baseVersion}, ref, content, author)
	filter := bson.D{{Key: "_id", Value: id}, {Key: "version", Value: baseVersion}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "content", Value: rev.Content},
		{Key: "version", Value: rev.Version},
		{Key: "modified", Value: rev.Modified},
		{Key: "author", Value: rev.Author},
	}}}

	res, err := m.docs.UpdateOne(ctx, filter, update)
	if err != nil {
		return Revision{}, err
	}
	if res.MatchedCount == 0 {
		return Revision{}, fmt.Errorf("%v: base %q: %w", ref, baseVersion, ErrVersionConflict)
	}
	return rev, nil
}

func (m *Mongo) Reload(ctx context.Context, ref Ref) (Revision, error) {
	var stored mongoRevision
	err := m.docs.FindOne(ctx, bson.D{{Key: "_id", Value: ref.String()}}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Revision{}, fmt.Errorf("%v: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Revision{}, err
	}
	return stored.revision(), nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func isDuplicateKey(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == duplicateKey {
			return true
		}
	}
	return false
}

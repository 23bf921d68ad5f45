package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"csvload/internal/storage"
)

// DefaultDatabase is used when the connection URI names no database.
const DefaultDatabase = "csvload"

/*
Store implements storage.Store on MongoDB, one collection per table.

Each row is a document whose _id is the primary key; every column, the key
included, is also stored as a string field. First-write-wins is an upsert
with $setOnInsert on _id, which the server applies atomically per document.
*/
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func init() {
	storage.Register("mongo", NewStore)
}

// NewStore connects to cfg.DSN, e.g. "mongodb://localhost:27017/shop".
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(databaseName(cfg.DSN))}, nil
}

// databaseName returns the path segment of a mongodb:// URI.
func databaseName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return DefaultDatabase
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return DefaultDatabase
	}
	return name
}

func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// EnsureTable only validates t; collections are created on first write.
func (s *Store) EnsureTable(_ context.Context, t storage.TableSpec) error {
	return t.Validate()
}

func (s *Store) DropTable(ctx context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.db.Collection(t.Name).Drop(ctx); err != nil {
		return fmt.Errorf("mongo: drop %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) InsertIgnore(ctx context.Context, t storage.TableSpec, values []string) (bool, error) {
	if err := t.CheckValues(values); err != nil {
		return false, err
	}
	key := values[t.KeyIndex()]
	res, err := s.db.Collection(t.Name).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		bson.D{{Key: "$setOnInsert", Value: toDocument(t, values)}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		// Two upserts racing on a new _id: the loser sees E11000.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo: insert %s: %w", t.Name, err)
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) Insert(ctx context.Context, t storage.TableSpec, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	key := values[t.KeyIndex()]
	doc := append(bson.D{{Key: "_id", Value: key}}, toDocument(t, values)...)
	if _, err := s.db.Collection(t.Name).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrConflict)
		}
		return fmt.Errorf("mongo: insert %s: %w", t.Name, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, t storage.TableSpec, key string, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	set := bson.D{}
	for i, c := range t.Columns {
		if c == t.Key {
			continue
		}
		set = append(set, bson.E{Key: c, Value: values[i]})
	}
	res, err := s.db.Collection(t.Name).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("mongo: update %s: %w", t.Name, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, t storage.TableSpec, key string) error {
	res, err := s.db.Collection(t.Name).DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	if err != nil {
		return fmt.Errorf("mongo: delete %s: %w", t.Name, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, t storage.TableSpec, key string) ([]string, error) {
	var doc bson.M
	err := s.db.Collection(t.Name).FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get %s: %w", t.Name, err)
	}
	return fromDocument(t, doc), nil
}

func (s *Store) List(ctx context.Context, t storage.TableSpec, opt storage.ListOptions) ([][]string, error) {
	cur, err := s.db.Collection(t.Name).Find(ctx, bson.D{}, findOptions(opt))
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", t.Name, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: read %s: %w", t.Name, err)
	}
	out := make([][]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(t, d))
	}
	return out, nil
}

func findOptions(opt storage.ListOptions) *options.FindOptionsBuilder {
	fo := options.Find()
	switch opt.Sort {
	case storage.SortAsc:
		fo.SetSort(bson.D{{Key: "_id", Value: 1}})
	case storage.SortDesc:
		fo.SetSort(bson.D{{Key: "_id", Value: -1}})
	}
	if opt.Limit > 0 {
		fo.SetLimit(int64(opt.Limit))
	}
	return fo
}

// toDocument maps a row to its column fields, in column order.
func toDocument(t storage.TableSpec, values []string) bson.D {
	doc := make(bson.D, 0, len(t.Columns))
	for i, c := range t.Columns {
		doc = append(doc, bson.E{Key: c, Value: values[i]})
	}
	return doc
}

// fromDocument reads the columns back; missing fields become "" and the key
// falls back to _id for documents written by other tools.
func fromDocument(t storage.TableSpec, doc bson.M) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if v, ok := doc[c]; ok {
			out[i] = storage.NormalizeKey(v)
		}
	}
	if k := t.KeyIndex(); k >= 0 && out[k] == "" {
		out[k] = storage.NormalizeKey(doc["_id"])
	}
	return out
}

var _ storage.Store = (*Store)(nil)

// Package mongodb is the narrow Mongo adapter of §4.7: exactly the
// primitives DocEngine and ViewEngine need, wrapped with retry.
package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// CollectionHandle is the set of per-collection primitives DocEngine and
// ViewEngine need. *Collection implements it; tests substitute a fake.
type CollectionHandle interface {
	FindOne(ctx context.Context, filter bson.M) (map[string]interface{}, error)
	FindStream(ctx context.Context, filter bson.M, sort bson.D, fn func(map[string]interface{}) error) error
	InsertOne(ctx context.Context, doc map[string]interface{}) error
	ReplaceOneIf(ctx context.Context, filter bson.M, replacement map[string]interface{}) error
	Count(ctx context.Context, filter bson.M) (int64, error)
}

// Store is the database-level set of primitives the server's db-management
// endpoints need. *Adapter implements it.
type Store interface {
	Collection(name string) CollectionHandle
	ListCollections(ctx context.Context) ([]string, error)
	DropCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
}

// Adapter wraps a *mongo.Database with retry and error classification.
type Adapter struct {
	db *mongo.Database
}

// New wraps db.
func New(db *mongo.Database) *Adapter { return &Adapter{db: db} }

func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 4 // 50ms, then 200ms, between the three attempts
	b.RandomizationFactor = 0.2
	return backoff.WithMaxRetries(b, 2)
}

// withRetry retries op on transient network errors with jittered
// exponential backoff (three attempts, with 50ms and 200ms base waits
// between them, ±20% jitter).
// Non-transient errors are returned immediately.
func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	retryable := func() error {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(retryable, backoff.WithContext(retryBackoff(), ctx))
	if err != nil {
		if isTransient(lastErr) {
			return apperr.UpstreamUnavailable(lastErr.Error(), lastErr)
		}
		return err
	}
	return nil
}

func isTransient(err error) bool {
	if cmdErr, ok := err.(mongo.CommandError); ok {
		return cmdErr.HasErrorLabel("NetworkError") || cmdErr.HasErrorLabel("RetryableWriteError")
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// classify turns a raw mongo-driver error into an apperr kind, per §4.7's
// "surfaces duplicate-key and concurrency errors as distinct kinds".
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("document update conflict")
	}
	if isTransient(err) {
		return apperr.UpstreamUnavailable(err.Error(), err)
	}
	return apperr.Internal(err)
}

// Collection is a handle scoped to one CouchDB-database-as-collection.
type Collection struct {
	coll *mongo.Collection
}

// Collection returns a handle for the named database/collection.
func (a *Adapter) Collection(name string) CollectionHandle {
	return &Collection{coll: a.db.Collection(name)}
}

// FindOne fetches a single document by filter.
func (c *Collection) FindOne(ctx context.Context, filter bson.M) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := withRetry(ctx, func() error {
		e := c.coll.FindOne(ctx, filter).Decode(&out)
		if e == mongo.ErrNoDocuments {
			return backoff.Permanent(e)
		}
		return e
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("document not found")
	}
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// FindStream opens a cursor over filter/sort and calls fn for each
// decoded document until fn errors, the cursor is exhausted, or ctx is
// cancelled. Used by ViewEngine's full-scan view builds and _all_docs.
func (c *Collection) FindStream(ctx context.Context, filter bson.M, sort bson.D, fn func(map[string]interface{}) error) error {
	opts := options.Find()
	if sort != nil {
		opts.SetSort(sort)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return classify(err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc map[string]interface{}
		if err := cur.Decode(&doc); err != nil {
			return apperr.Internal(err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return classify(err)
	}
	return nil
}

// InsertOne inserts a new document. A duplicate _id surfaces as conflict.
func (c *Collection) InsertOne(ctx context.Context, doc map[string]interface{}) error {
	err := withRetry(ctx, func() error {
		_, e := c.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(e) {
			return backoff.Permanent(e)
		}
		return e
	})
	return classify(err)
}

// ReplaceOneIf performs a conditional replace: filter must match exactly
// one existing document (the revision check), and the full replacement
// document takes its place. A no-match result surfaces as conflict.
func (c *Collection) ReplaceOneIf(ctx context.Context, filter bson.M, replacement map[string]interface{}) error {
	err := withRetry(ctx, func() error {
		res := c.coll.FindOneAndReplace(ctx, filter, replacement)
		if res.Err() == mongo.ErrNoDocuments {
			return backoff.Permanent(res.Err())
		}
		return res.Err()
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.Conflict("document update conflict")
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter bson.M) (int64, error) {
	var n int64
	err := withRetry(ctx, func() error {
		var e error
		n, e = c.coll.CountDocuments(ctx, filter)
		return e
	})
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// ListCollections returns the names of all collections (CouchDB
// "databases") in the wrapped database.
func (a *Adapter) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := withRetry(ctx, func() error {
		var e error
		names, e = a.db.ListCollectionNames(ctx, bson.M{})
		return e
	})
	if err != nil {
		return nil, classify(err)
	}
	return names, nil
}

// DropCollection drops a CouchDB "database".
func (a *Adapter) DropCollection(ctx context.Context, name string) error {
	err := withRetry(ctx, func() error {
		return a.db.Collection(name).Drop(ctx)
	})
	return classify(err)
}

// CreateCollection creates an empty collection, making database creation
// idempotent: MongoDB's own "already exists" error is swallowed.
func (a *Adapter) CreateCollection(ctx context.Context, name string) error {
	exists := false
	err := withRetry(ctx, func() error {
		e := a.db.CreateCollection(ctx, name)
		if e != nil && isAlreadyExists(e) {
			exists = true
			return backoff.Permanent(e)
		}
		return e
	})
	if exists {
		return nil
	}
	return classify(err)
}

func isAlreadyExists(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	return ok && cmdErr.Code == 48 // NamespaceExists
}

// CollectionExists reports whether name is among the database's
// collections.
func (a *Adapter) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := a.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

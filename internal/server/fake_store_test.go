package server

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/mongodb"
)

// fakeStore is an in-memory stand-in for mongodb.Store used to exercise the
// HTTP surface end-to-end without a live MongoDB.
type fakeStore struct {
	mu    sync.Mutex
	colls map[string]*fakeCollection
}

func newFakeStore() *fakeStore { return &fakeStore{colls: map[string]*fakeCollection{}} }

func (s *fakeStore) Collection(name string) mongodb.CollectionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		c = &fakeCollection{docs: map[string]map[string]interface{}{}}
		s.colls[name] = c
	}
	return c
}

func (s *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.colls))
	for n := range s.colls {
		names = append(names, n)
	}
	return names, nil
}

func (s *fakeStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.colls, name)
	return nil
}

func (s *fakeStore) CreateCollection(ctx context.Context, name string) error {
	s.Collection(name)
	return nil
}

func (s *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.colls[name]
	return ok, nil
}

type fakeCollection struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

func cloneDoc(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *fakeCollection) FindOne(ctx context.Context, filter bson.M) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := filter["_id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return nil, apperr.NotFound("document not found")
	}
	if rev, ok := filter["_rev"].(string); ok && doc["_rev"] != rev {
		return nil, apperr.NotFound("document not found")
	}
	return cloneDoc(doc), nil
}

func (c *fakeCollection) FindStream(ctx context.Context, filter bson.M, sort bson.D, fn func(map[string]interface{}) error) error {
	c.mu.Lock()
	docs := make([]map[string]interface{}, 0, len(c.docs))
	for _, v := range c.docs {
		docs = append(docs, cloneDoc(v))
	}
	c.mu.Unlock()
	for _, doc := range docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCollection) InsertOne(ctx context.Context, doc map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := doc["_id"].(string)
	if _, exists := c.docs[id]; exists {
		return apperr.Conflict("document already exists")
	}
	c.docs[id] = cloneDoc(doc)
	return nil
}

func (c *fakeCollection) ReplaceOneIf(ctx context.Context, filter bson.M, replacement map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := filter["_id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return apperr.Conflict("document update conflict")
	}
	if rev, ok := filter["_rev"].(string); ok && doc["_rev"] != rev {
		return apperr.Conflict("document update conflict")
	}
	c.docs[id] = cloneDoc(replacement)
	return nil
}

func (c *fakeCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.docs)), nil
}

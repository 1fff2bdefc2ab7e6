package docengine

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/mongodb"
)

// fakeStore is an in-memory stand-in for mongodb.Store/mongodb.CollectionHandle,
// just expressive enough to exercise DocEngine's query shapes: exact _id
// lookup, _id+_rev conditional replace, _deleted exclusion, and _id $in.
type fakeStore struct {
	mu   sync.Mutex
	colls map[string]*fakeCollection
}

func newFakeStore() *fakeStore {
	return &fakeStore{colls: map[string]*fakeCollection{}}
}

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
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	docs := make(map[string]map[string]interface{}, len(c.docs))
	for k, v := range c.docs {
		docs[k] = cloneDoc(v)
	}
	c.mu.Unlock()

	for _, id := range ids {
		doc := docs[id]
		if !matchesFakeFilter(doc, filter) {
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// matchesFakeFilter interprets the small subset of MongoDB filter shapes
// DocEngine actually produces: field equality and $eq/$ne/$gt/$gte/$lt/$lte/
// $in/$nin, each either bare or wrapped in a single-key bson.M.
func matchesFakeFilter(doc map[string]interface{}, filter bson.M) bool {
	for field, cond := range filter {
		actual := doc[field]
		if !matchesFakeCondition(actual, cond) {
			return false
		}
	}
	return true
}

func matchesFakeCondition(actual, cond interface{}) bool {
	ops, ok := cond.(bson.M)
	if !ok {
		return actual == cond
	}
	for op, want := range ops {
		switch op {
		case "$eq":
			if actual != want {
				return false
			}
		case "$ne":
			if actual == want {
				return false
			}
		case "$gt":
			if !numericCompare(actual, want, func(a, b float64) bool { return a > b }) {
				return false
			}
		case "$gte":
			if !numericCompare(actual, want, func(a, b float64) bool { return a >= b }) {
				return false
			}
		case "$lt":
			if !numericCompare(actual, want, func(a, b float64) bool { return a < b }) {
				return false
			}
		case "$lte":
			if !numericCompare(actual, want, func(a, b float64) bool { return a <= b }) {
				return false
			}
		case "$in":
			items, _ := want.([]interface{})
			found := false
			for _, item := range items {
				if actual == item {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$nin":
			items, _ := want.([]interface{})
			for _, item := range items {
				if actual == item {
					return false
				}
			}
		}
	}
	return true
}

func numericCompare(actual, want interface{}, cmp func(a, b float64) bool) bool {
	af, ok := actual.(float64)
	if !ok {
		return false
	}
	bf, ok := want.(float64)
	if !ok {
		return false
	}
	return cmp(af, bf)
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
	var n int64
	for _, doc := range c.docs {
		if matchesFakeFilter(doc, filter) {
			n++
		}
	}
	return n, nil
}

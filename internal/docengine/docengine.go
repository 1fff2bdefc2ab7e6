// Package docengine implements DocEngine: the revision-checked CRUD
// protocol, bulk operations, and update-function invocation that form
// the proxy's outward contract, per §4.6.
package docengine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/jsruntime"
	"github.com/couchmongo/couchmongo/internal/mongodb"
	"github.com/couchmongo/couchmongo/internal/revision"
)

// Engine is DocEngine. One Engine serves one MongoDB database; the
// CouchDB "database" name is the collection name within it.
type Engine struct {
	adapter mongodb.Store
	budget  jsruntime.Budget
}

// New constructs an Engine over adapter.
func New(adapter mongodb.Store, budget jsruntime.Budget) *Engine {
	return &Engine{adapter: adapter, budget: budget}
}

// PutResult is the outward shape of a successful single-document write.
type PutResult struct {
	ID  string
	Rev string
}

// Get returns the current document, or the document at a specific
// revision if rev is non-empty.
func (e *Engine) Get(ctx context.Context, db, id, rev string) (map[string]interface{}, error) {
	filter := bson.M{"_id": id}
	if rev != "" {
		if _, err := revision.Parse(rev); err != nil {
			return nil, err
		}
		filter["_rev"] = rev
	}
	doc, err := e.adapter.Collection(db).FindOne(ctx, filter)
	if err != nil {
		var ae *apperr.Error
		if rev != "" && errors.As(err, &ae) && ae.Kind == apperr.KindNotFound {
			// A live document at another revision: the requested rev does not match.
			if cur, curErr := e.adapter.Collection(db).FindOne(ctx, bson.M{"_id": id}); curErr == nil {
				if deleted, _ := cur["_deleted"].(bool); !deleted {
					return nil, apperr.Conflict("document %q is not at revision %s", id, rev)
				}
			}
		}
		return nil, err
	}
	if deleted, _ := doc["_deleted"].(bool); deleted {
		return nil, apperr.NotFound("document %q is deleted", id)
	}
	return doc, nil
}

// Put inserts or updates a document under a revision check, per the
// §4.6 write protocol.
func (e *Engine) Put(ctx context.Context, db, id string, body map[string]interface{}, rev string) (PutResult, error) {
	bodyRev, _ := body["_rev"].(string)
	if rev != "" && bodyRev != "" && rev != bodyRev {
		return PutResult{}, apperr.BadRequest("document rev and If-Match header disagree")
	}
	if rev == "" {
		rev = bodyRev
	}

	nextBody := stripProxyFields(body)
	nextBody["_id"] = id

	var prevRev revision.Rev
	if rev != "" {
		parsed, err := revision.Parse(rev)
		if err != nil {
			return PutResult{}, err
		}
		prevRev = parsed
	}

	newRev, err := revision.Bump(prevRev, nextBody)
	if err != nil {
		return PutResult{}, err
	}
	newRevStr := newRev.String()

	stored := cloneMap(nextBody)
	stored["_rev"] = newRevStr

	coll := e.adapter.Collection(db)
	if rev == "" {
		stored["_id"] = id

		// No client-supplied rev: this is a fresh-lineage create (§3).
		// If the _id belongs to a live document, that's a conflict; if it
		// belongs to a tombstone, the create must resurrect it as a new
		// generation-1 lineage rather than bounce off the tombstone's _id.
		existing, err := coll.FindOne(ctx, bson.M{"_id": id})
		if err != nil {
			var ae *apperr.Error
			if !errors.As(err, &ae) || ae.Kind != apperr.KindNotFound {
				return PutResult{}, err
			}
			if err := coll.InsertOne(ctx, stored); err != nil {
				return PutResult{}, err
			}
			return PutResult{ID: id, Rev: newRevStr}, nil
		}

		if deleted, _ := existing["_deleted"].(bool); !deleted {
			return PutResult{}, apperr.Conflict("document update conflict")
		}
		existingRev, _ := existing["_rev"].(string)
		if err := coll.ReplaceOneIf(ctx, bson.M{"_id": id, "_rev": existingRev}, stored); err != nil {
			return PutResult{}, err
		}
		return PutResult{ID: id, Rev: newRevStr}, nil
	}

	filter := bson.M{"_id": id, "_rev": rev}
	if err := coll.ReplaceOneIf(ctx, filter, stored); err != nil {
		return PutResult{}, err
	}
	return PutResult{ID: id, Rev: newRevStr}, nil
}

// Post is Put with an absent id: a UUID v4 is assigned.
func (e *Engine) Post(ctx context.Context, db string, body map[string]interface{}) (PutResult, error) {
	id, _ := body["_id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	return e.Put(ctx, db, id, body, "")
}

// Delete writes a tombstone at the next generation. rev is mandatory.
func (e *Engine) Delete(ctx context.Context, db, id, rev string) (PutResult, error) {
	if rev == "" {
		return PutResult{}, apperr.BadRequest("rev is required to delete %q", id)
	}
	prevRev, err := revision.Parse(rev)
	if err != nil {
		return PutResult{}, err
	}
	tombstone := map[string]interface{}{"_id": id, "_deleted": true}
	newRev, err := revision.Bump(prevRev, tombstone)
	if err != nil {
		return PutResult{}, err
	}
	newRevStr := newRev.String()
	stored := map[string]interface{}{"_id": id, "_rev": newRevStr, "_deleted": true}

	coll := e.adapter.Collection(db)
	filter := bson.M{"_id": id, "_rev": rev}
	if err := coll.ReplaceOneIf(ctx, filter, stored); err != nil {
		// A missing document (never existed) is not-found; a present
		// document at a different rev is conflict. ReplaceOneIf cannot
		// distinguish these without a lookup, so resolve it here.
		if _, getErr := coll.FindOne(ctx, bson.M{"_id": id}); getErr != nil {
			return PutResult{}, apperr.NotFound("document %q not found", id)
		}
		return PutResult{}, err
	}
	return PutResult{ID: id, Rev: newRevStr}, nil
}

// BulkResult is one document's outcome within a BulkDocs call.
type BulkResult struct {
	ID     string
	OK     bool
	Rev    string
	Error  string
	Reason string
}

// BulkDocs applies docs independently (or, if allOrNothing, with the
// best-effort semantics documented in §5 and §9) and returns one
// BulkResult per input document, in input order.
func (e *Engine) BulkDocs(ctx context.Context, db string, docs []map[string]interface{}, allOrNothing bool) []BulkResult {
	results := make([]BulkResult, len(docs))
	for i, doc := range docs {
		id, _ := doc["_id"].(string)
		rev, _ := doc["_rev"].(string)

		var res PutResult
		var err error
		if deleted, _ := doc["_deleted"].(bool); deleted {
			res, err = e.Delete(ctx, db, id, rev)
		} else {
			res, err = e.Put(ctx, db, id, doc, rev)
		}
		if err != nil {
			body := apperr.ErrorBody(err)
			results[i] = BulkResult{ID: id, Error: body.Error, Reason: body.Reason}
			continue
		}
		results[i] = BulkResult{ID: res.ID, OK: true, Rev: res.Rev}
	}
	// allOrNothing is best-effort only (§9): committed writes above are
	// never rolled back even if a later document in the batch fails.
	_ = allOrNothing
	return results
}

// UpdateFn invokes an update function inside the read-modify-write cycle,
// per the §4.3/§4.6 update-function protocol.
func (e *Engine) UpdateFn(ctx context.Context, db, id, src string, req jsruntime.UpdateRequest) (jsruntime.UpdateResult, error) {
	var current map[string]interface{}
	if id != "" {
		doc, err := e.Get(ctx, db, id, "")
		if err != nil {
			var ae *apperr.Error
			if !errors.As(err, &ae) || ae.Kind != apperr.KindNotFound {
				return jsruntime.UpdateResult{}, err
			}
		} else {
			current = doc
		}
	}

	result, err := jsruntime.RunUpdate(src, current, req, e.budget)
	if err != nil {
		return jsruntime.UpdateResult{}, err
	}
	if result.NewDoc == nil {
		return result, nil
	}

	rev, _ := current["_rev"].(string)
	writeID := id
	if writeID == "" {
		writeID, _ = result.NewDoc["_id"].(string)
	}
	if _, err := e.Put(ctx, db, writeID, result.NewDoc, rev); err != nil {
		return jsruntime.UpdateResult{}, err
	}
	return result, nil
}

func stripProxyFields(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "_rev" || k == "_deleted" {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

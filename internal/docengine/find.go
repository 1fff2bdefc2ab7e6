package docengine

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/mango"
)

// FindRow is one row of a Find or AllDocs result.
type FindRow struct {
	ID  string
	Doc map[string]interface{}
}

// Find delegates to QueryTranslator and shapes the matching rows.
func (e *Engine) Find(ctx context.Context, db string, selector map[string]interface{}, sort []interface{}, limit, skip int64) ([]FindRow, error) {
	filter, err := mango.Translate(selector)
	if err != nil {
		return nil, err
	}
	sortDoc, err := mango.Sort(sort)
	if err != nil {
		return nil, err
	}
	filter["_deleted"] = bson.M{"$ne": true}

	var rows []FindRow
	var skipped int64
	err = e.adapter.Collection(db).FindStream(ctx, filter, sortDoc, func(doc map[string]interface{}) error {
		if limit >= 0 && int64(len(rows)) >= limit {
			return errStop
		}
		if skipped < skip {
			skipped++
			return nil
		}
		rows = append(rows, FindRow{ID: idOf(doc), Doc: doc})
		return nil
	})
	if err != nil && err != errStop {
		return nil, err
	}
	return rows, nil
}

// AllDocs lists documents sorted by _id, honoring keys/start_key/end_key/
// include_docs semantics with an _id filter built here (the Mango
// translator is not used).
func (e *Engine) AllDocs(ctx context.Context, db string, keys []interface{}, startKey, endKey string, includeDocs bool, limit, skip int64) ([]FindRow, error) {
	filter := bson.M{"_deleted": bson.M{"$ne": true}}
	if len(keys) > 0 {
		filter["_id"] = bson.M{"$in": keys}
	} else {
		idFilter := bson.M{}
		if startKey != "" {
			idFilter["$gte"] = startKey
		}
		if endKey != "" {
			idFilter["$lte"] = endKey
		}
		if len(idFilter) > 0 {
			filter["_id"] = idFilter
		}
	}

	var rows []FindRow
	var skipped int64
	err := e.adapter.Collection(db).FindStream(ctx, filter, bson.D{{Key: "_id", Value: 1}}, func(doc map[string]interface{}) error {
		if limit >= 0 && int64(len(rows)) >= limit {
			return errStop
		}
		if skipped < skip {
			skipped++
			return nil
		}
		row := FindRow{ID: idOf(doc)}
		if includeDocs {
			row.Doc = doc
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil && err != errStop {
		return nil, err
	}
	return rows, nil
}

var errStop = stopErr{}

type stopErr struct{}

func (stopErr) Error() string { return "docengine: stop iteration" }

func idOf(doc map[string]interface{}) string {
	id, _ := doc["_id"].(string)
	return id
}

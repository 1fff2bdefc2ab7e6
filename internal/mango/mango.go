// Package mango translates CouchDB Mango selectors into MongoDB filter
// documents, and provides an in-memory matcher usable as a safety net
// wherever the pushed-down filter's semantics might diverge from Mango's.
package mango

import (
	"encoding/json"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// supportedOps is the operator set this translator accepts, per §4.5.
// Mongo's own operator of the same name is used for everything except
// $type, which is remapped below.
var supportedOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$exists": true, "$type": true, "$regex": true,
	"$and": true, "$or": true, "$not": true, "$nor": true, "$all": true,
	"$size": true, "$elemMatch": true,
}

// bsonTypeNames maps CouchDB's $type names to MongoDB BSON type aliases.
var bsonTypeNames = map[string]string{
	"null":    "null",
	"boolean": "bool",
	"number":  "number",
	"string":  "string",
	"array":   "array",
	"object":  "object",
}

// Translate converts a Mango selector (already decoded from JSON) into a
// MongoDB filter document. Unsupported operators fail with
// apperr.UnsupportedSelector.
func Translate(selector map[string]interface{}) (bson.M, error) {
	filter := bson.M{}
	for _, key := range sortedKeys(selector) {
		val := selector[key]
		switch key {
		case "$and":
			parts, err := translateArray(val)
			if err != nil {
				return nil, err
			}
			filter["$and"] = parts
		case "$or":
			parts, err := translateArray(val)
			if err != nil {
				return nil, err
			}
			filter["$or"] = parts
		case "$nor":
			parts, err := translateArray(val)
			if err != nil {
				return nil, err
			}
			filter["$nor"] = parts
		case "$not":
			sub, ok := val.(map[string]interface{})
			if !ok {
				return nil, apperr.BadRequest("$not requires an object operand")
			}
			inner, err := Translate(sub)
			if err != nil {
				return nil, err
			}
			filter["$nor"] = []bson.M{inner}
		default:
			if len(key) > 0 && key[0] == '$' {
				return nil, apperr.UnsupportedSelector(key)
			}
			cond, err := fieldCondition(val)
			if err != nil {
				return nil, err
			}
			filter[key] = cond
		}
	}
	return filter, nil
}

func translateArray(val interface{}) ([]bson.M, error) {
	arr, ok := val.([]interface{})
	if !ok {
		return nil, apperr.BadRequest("expected an array of selectors")
	}
	out := make([]bson.M, 0, len(arr))
	for _, elem := range arr {
		sub, ok := elem.(map[string]interface{})
		if !ok {
			return nil, apperr.BadRequest("expected a selector object")
		}
		f, err := Translate(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// fieldCondition translates the right-hand side of a single field in a
// selector: either a bare value (equality) or an object of operators.
func fieldCondition(val interface{}) (interface{}, error) {
	ops, ok := val.(map[string]interface{})
	if !ok {
		// Bare equality is passed through unchanged.
		return val, nil
	}
	// Distinguish an operator object ({"$gt": 1}) from a literal object
	// value ({"a": 1}) being matched for equality: Mango operators always
	// begin with "$".
	isOperatorObject := false
	for k := range ops {
		if len(k) > 0 && k[0] == '$' {
			isOperatorObject = true
			break
		}
	}
	if !isOperatorObject {
		return val, nil
	}

	out := bson.M{}
	for _, op := range sortedKeys(ops) {
		opVal := ops[op]
		if !supportedOps[op] {
			return nil, apperr.UnsupportedSelector(op)
		}
		switch op {
		case "$type":
			name, _ := opVal.(string)
			bsonName, ok := bsonTypeNames[name]
			if !ok {
				return nil, apperr.BadRequest("unknown $type %q", name)
			}
			out["$type"] = bsonName
		default:
			out[op] = opVal
		}
	}
	return out, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sort converts a Mango sort specification ([{"field": "asc"|"desc"}, ...])
// into a MongoDB sort document.
func Sort(spec []interface{}) (bson.D, error) {
	out := make(bson.D, 0, len(spec))
	for _, item := range spec {
		switch v := item.(type) {
		case string:
			out = append(out, bson.E{Key: v, Value: 1})
		case map[string]interface{}:
			for field, dir := range v {
				dirStr, _ := dir.(string)
				n := 1
				if dirStr == "desc" {
					n = -1
				}
				out = append(out, bson.E{Key: field, Value: n})
			}
		default:
			return nil, apperr.BadRequest("invalid sort entry")
		}
	}
	return out, nil
}

// ParseSelector decodes a raw JSON selector, used by callers that receive
// a selector as wire bytes rather than already-decoded interface{} values.
func ParseSelector(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.BadRequest("invalid selector JSON: %v", err)
	}
	return out, nil
}

package mango

import (
	"regexp"
	"strings"

	"github.com/couchmongo/couchmongo/internal/collate"
)

// Match evaluates selector against doc using the same operator semantics
// as Translate, independent of MongoDB. It exists as a safety net: a
// pushed-down filter can be cross-checked against Match on a sample of
// results, and any operator this package declines to push down can still
// be evaluated here.
func Match(selector map[string]interface{}, doc map[string]interface{}) bool {
	for key, val := range selector {
		switch key {
		case "$and":
			for _, sub := range mustArray(val) {
				if !Match(mustObject(sub), doc) {
					return false
				}
			}
		case "$or":
			any := false
			for _, sub := range mustArray(val) {
				if Match(mustObject(sub), doc) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		case "$nor":
			for _, sub := range mustArray(val) {
				if Match(mustObject(sub), doc) {
					return false
				}
			}
		case "$not":
			if Match(mustObject(val), doc) {
				return false
			}
		default:
			if !matchField(lookup(doc, key), val) {
				return false
			}
		}
	}
	return true
}

func matchField(actual interface{}, val interface{}) bool {
	ops, ok := val.(map[string]interface{})
	if !ok {
		return collate.Compare(actual, val) == 0
	}
	isOperatorObject := false
	for k := range ops {
		if strings.HasPrefix(k, "$") {
			isOperatorObject = true
			break
		}
	}
	if !isOperatorObject {
		return collate.Compare(actual, ops) == 0
	}

	for op, opVal := range ops {
		if !matchOp(op, opVal, actual) {
			return false
		}
	}
	return true
}

func matchOp(op string, opVal, actual interface{}) bool {
	switch op {
	case "$eq":
		return collate.Compare(actual, opVal) == 0
	case "$ne":
		return collate.Compare(actual, opVal) != 0
	case "$gt":
		return actual != nil && collate.Compare(actual, opVal) > 0
	case "$gte":
		return actual != nil && collate.Compare(actual, opVal) >= 0
	case "$lt":
		return actual != nil && collate.Compare(actual, opVal) < 0
	case "$lte":
		return actual != nil && collate.Compare(actual, opVal) <= 0
	case "$exists":
		want, _ := opVal.(bool)
		return (actual != nil) == want
	case "$type":
		return matchType(actual, opVal)
	case "$in":
		for _, v := range mustArray(opVal) {
			if collate.Compare(actual, v) == 0 {
				return true
			}
		}
		return false
	case "$nin":
		for _, v := range mustArray(opVal) {
			if collate.Compare(actual, v) == 0 {
				return false
			}
		}
		return true
	case "$size":
		arr, ok := actual.([]interface{})
		if !ok {
			return false
		}
		n, ok := opVal.(float64)
		return ok && len(arr) == int(n)
	case "$all":
		arr, ok := actual.([]interface{})
		if !ok {
			return false
		}
		for _, want := range mustArray(opVal) {
			found := false
			for _, v := range arr {
				if collate.Compare(v, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$elemMatch":
		arr, ok := actual.([]interface{})
		if !ok {
			return false
		}
		sub := mustObject(opVal)
		for _, v := range arr {
			if m, ok := v.(map[string]interface{}); ok && Match(sub, m) {
				return true
			}
		}
		return false
	case "$regex":
		s, ok := actual.(string)
		if !ok {
			return false
		}
		pattern, _ := opVal.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

func matchType(actual, opVal interface{}) bool {
	name, _ := opVal.(string)
	switch name {
	case "null":
		return actual == nil
	case "boolean":
		_, ok := actual.(bool)
		return ok
	case "number":
		_, ok := actual.(float64)
		return ok
	case "string":
		_, ok := actual.(string)
		return ok
	case "array":
		_, ok := actual.([]interface{})
		return ok
	case "object":
		_, ok := actual.(map[string]interface{})
		return ok
	default:
		return false
	}
}

// lookup resolves a dotted field path against a decoded document.
func lookup(doc map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func mustArray(v interface{}) []interface{} {
	arr, _ := v.([]interface{})
	return arr
}

func mustObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

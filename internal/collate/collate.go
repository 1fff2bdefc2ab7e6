// Package collate implements CouchDB's total order over JSON values:
// null < false < true < number < string < array < object, with strings
// compared by the root-locale Unicode Collation Algorithm (so "a" sorts
// before "A").
package collate

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	collatorMu = new(sync.Mutex)
	collator   = collate.New(language.Und)
)

// CompareString returns -1, 0, or 1 comparing a and b with the
// undefined-locale collator, which applies the Unicode Collation
// Algorithm's default order rather than code-point order.
func CompareString(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

type jsonType int

const (
	typeNull jsonType = iota
	typeBool
	typeNumber
	typeString
	typeArray
	typeObject
)

func typeOf(v interface{}) jsonType {
	switch vv := v.(type) {
	case nil:
		return typeNull
	case bool:
		return typeBool
	case float64, int, int64, uint64:
		return typeNumber
	case string:
		return typeString
	case []interface{}:
		return typeArray
	case map[string]interface{}:
		return typeObject
	default:
		_ = vv
		panic("collate: unexpected JSON type")
	}
}

func toFloat(v interface{}) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case int:
		return float64(vv)
	case int64:
		return float64(vv)
	case uint64:
		return float64(vv)
	default:
		return 0
	}
}

// Compare compares two values already decoded from JSON (e.g. via
// encoding/json into interface{}) according to the CouchDB collation
// order. The result is 0 if a==b, negative if a < b, and positive if
// a > b.
func Compare(a, b interface{}) int {
	at, bt := typeOf(a), typeOf(b)
	if at != bt {
		if at < bt {
			return -1
		}
		return 1
	}

	switch at {
	case typeNull:
		return 0
	case typeBool:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case typeNumber:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case typeString:
		return CompareString(a.(string), b.(string))
	case typeArray:
		aa, ba := a.([]interface{}), b.([]interface{})
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := Compare(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return len(aa) - len(ba)
	case typeObject:
		ao, bo := a.(map[string]interface{}), b.(map[string]interface{})
		keySet := make(map[string]struct{}, len(ao)+len(bo))
		for k := range ao {
			keySet[k] = struct{}{}
		}
		for k := range bo {
			keySet[k] = struct{}{}
		}
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return CompareString(keys[i], keys[j]) < 0 })

		for _, k := range keys {
			av, aok := ao[k]
			bv, bok := bo[k]
			switch {
			case aok && !bok:
				return 1
			case !aok && bok:
				return -1
			}
			if c := Compare(av, bv); c != 0 {
				return c
			}
		}
		return len(ao) - len(bo)
	}
	panic("collate: unreachable")
}

// CompareRows compares two view rows by key, breaking ties by document id
// in ascending ASCII order, per the §4.4 ordering rule.
func CompareRows(aKey, bKey interface{}, aID, bID string) int {
	if c := Compare(aKey, bKey); c != 0 {
		return c
	}
	switch {
	case aID < bID:
		return -1
	case aID > bID:
		return 1
	default:
		return 0
	}
}

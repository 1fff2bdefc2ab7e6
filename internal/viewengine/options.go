package viewengine

import (
	"github.com/couchmongo/couchmongo/internal/apperr"
)

// Options is the decoded set of view-query options from §4.4, typically
// built from a request's query-string parameters (JSON-encoded values).
type Options struct {
	Reduce      *bool
	Group       bool
	GroupLevel  int
	IncludeDocs bool
	Descending  bool
	Limit       int64
	Skip        int64
	StartKey    interface{}
	EndKey      interface{}
	HasStartKey bool
	HasEndKey   bool
	StartKeyID  string
	EndKeyID    string
	Keys        []interface{}
	HasKeys     bool
	IncludeLogs bool
}

// FromMap builds Options from a generic option bag (as produced by
// decoding query-string/JSON values), applying the defaults from §4.4.
func FromMap(m map[string]interface{}) (Options, error) {
	o := Options{Limit: -1}

	if v, ok := m["reduce"].(bool); ok {
		o.Reduce = &v
	}
	if v, ok := m["group"].(bool); ok {
		o.Group = v
	}
	if v, ok := m["group_level"]; ok {
		n, err := toInt(v)
		if err != nil {
			return o, apperr.BadRequest("invalid group_level: %v", err)
		}
		o.GroupLevel = n
		if !o.Group && n != 0 {
			o.Group = true
		}
	}
	if v, ok := m["include_docs"].(bool); ok {
		o.IncludeDocs = v
	}
	if v, ok := m["include_logs"].(bool); ok {
		o.IncludeLogs = v
	}
	if v, ok := m["descending"].(bool); ok {
		o.Descending = v
	}
	if v, ok := m["limit"]; ok {
		n, err := toInt(v)
		if err != nil {
			return o, apperr.BadRequest("invalid limit: %v", err)
		}
		o.Limit = int64(n)
	}
	if v, ok := m["skip"]; ok {
		n, err := toInt(v)
		if err != nil {
			return o, apperr.BadRequest("invalid skip: %v", err)
		}
		o.Skip = int64(n)
	}
	if v, ok := m["start_key"]; ok {
		o.StartKey, o.HasStartKey = v, true
	} else if v, ok := m["startkey"]; ok {
		o.StartKey, o.HasStartKey = v, true
	}
	if v, ok := m["end_key"]; ok {
		o.EndKey, o.HasEndKey = v, true
	} else if v, ok := m["endkey"]; ok {
		o.EndKey, o.HasEndKey = v, true
	}
	if v, ok := m["startkey_docid"].(string); ok {
		o.StartKeyID = v
	}
	if v, ok := m["endkey_docid"].(string); ok {
		o.EndKeyID = v
	}
	if v, ok := m["keys"].([]interface{}); ok {
		o.Keys, o.HasKeys = v, true
		// §8 boundary case: keys wins over range params.
		o.HasStartKey, o.HasEndKey = false, false
	}
	return o, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, apperr.BadRequest("expected a number")
	}
}

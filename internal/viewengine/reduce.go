package viewengine

import (
	"encoding/json"
	"reflect"
	"slices"

	"github.com/mitchellh/mapstructure"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/jsruntime"
)

// reduceFunc computes one reduce or rereduce step. keys/values are
// parallel slices; rereduce indicates whether values are partial reduce
// outputs rather than fresh map output.
type reduceFunc func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error)

// builtinReduceFunc resolves a reduce source of the form "_sum", "_count",
// or "_stats" to a builtin implementation; ok is false for anything else.
func builtinReduceFunc(source string) (reduceFunc, bool) {
	switch source {
	case "_sum":
		return sumReduce, true
	case "_count":
		return countReduce, true
	case "_stats":
		return statsReduce, true
	default:
		return nil, false
	}
}

func jsReduceFunc(source string, budget jsruntime.Budget) reduceFunc {
	return func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
		return jsruntime.RunReduce(source, keys, values, rereduce, budget)
	}
}

func sumReduce(_ []interface{}, values []interface{}, _ bool) (interface{}, error) {
	var total float64
	for _, v := range values {
		if n, ok := v.(float64); ok {
			total += n
		}
	}
	return total, nil
}

func countReduce(_ []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
	if !rereduce {
		return float64(len(values)), nil
	}
	var total float64
	for _, v := range values {
		if n, ok := v.(float64); ok {
			total += n
		}
	}
	return total, nil
}

type statsAccum struct {
	Sum    float64 `json:"sum" mapstructure:"sum"`
	Min    float64 `json:"min" mapstructure:"min"`
	Max    float64 `json:"max" mapstructure:"max"`
	Count  float64 `json:"count" mapstructure:"count"`
	SumSqr float64 `json:"sumsqr" mapstructure:"sumsqr"`
}

func statsReduce(_ []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
	if rereduce {
		var out statsAccum
		var mins, maxs []float64
		for _, v := range values {
			acc, err := toStatsAccum(v)
			if err != nil {
				return nil, err
			}
			out.Sum += acc.Sum
			out.Count += acc.Count
			out.SumSqr += acc.SumSqr
			mins = append(mins, acc.Min)
			maxs = append(maxs, acc.Max)
		}
		out.Min = slices.Min(mins)
		out.Max = slices.Max(maxs)
		return statsAccumToMap(out), nil
	}

	var out statsAccum
	out.Count = float64(len(values))
	var mins, maxs []float64
	for _, v := range values {
		n, ok := v.(float64)
		if !ok {
			raw, _ := json.Marshal(v)
			return nil, apperr.FunctionFailure("_stats requires numeric map values, got "+string(raw), nil)
		}
		out.Sum += n
		out.SumSqr += n * n
		mins = append(mins, n)
		maxs = append(maxs, n)
	}
	if len(mins) > 0 {
		out.Min = slices.Min(mins)
		out.Max = slices.Max(maxs)
	}
	return statsAccumToMap(out), nil
}

func toStatsAccum(v interface{}) (statsAccum, error) {
	var acc statsAccum
	var metadata mapstructure.Metadata
	if err := mapstructure.DecodeMetadata(v, &acc, &metadata); err != nil || len(metadata.Unset) > 0 {
		raw, _ := json.Marshal(v)
		return statsAccum{}, apperr.FunctionFailure("_stats rereduce requires prior _stats output, got "+string(raw), nil)
	}
	return acc, nil
}

func statsAccumToMap(a statsAccum) map[string]interface{} {
	return map[string]interface{}{
		"sum": a.Sum, "min": a.Min, "max": a.Max, "count": a.Count, "sumsqr": a.SumSqr,
	}
}

// rereduceFanIn is the partition size above which a group's values are
// folded down via successive rereduce rounds rather than one call.
const rereduceFanIn = 500

// reduceGroup applies fn to a single group's values, rereducing in
// batches of rereduceFanIn until one value remains.
func reduceGroup(fn reduceFunc, keys []interface{}, values []interface{}) (interface{}, error) {
	if len(values) <= 1 {
		if len(values) == 0 {
			return nil, nil
		}
		result, err := fn(keys, values, false)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	if len(values) <= rereduceFanIn {
		return fn(keys, values, false)
	}

	// Fold down in batches, rereducing partial outputs.
	partials := make([]interface{}, 0, (len(values)/rereduceFanIn)+1)
	for i := 0; i < len(values); i += rereduceFanIn {
		end := i + rereduceFanIn
		if end > len(values) {
			end = len(values)
		}
		var batchKeys []interface{}
		if end <= len(keys) {
			batchKeys = keys[i:end]
		}
		result, err := fn(batchKeys, values[i:end], false)
		if err != nil {
			return nil, err
		}
		partials = append(partials, result)
	}
	for len(partials) > 1 {
		var next []interface{}
		for i := 0; i < len(partials); i += rereduceFanIn {
			end := i + rereduceFanIn
			if end > len(partials) {
				end = len(partials)
			}
			result, err := fn(nil, partials[i:end], true)
			if err != nil {
				return nil, err
			}
			next = append(next, result)
		}
		partials = next
	}
	return partials[0], nil
}

// truncateKey implements the §4.4 group_level semantics: level<=0 with
// group=true means maximum grouping (the full key); level>0 truncates an
// array key to its first N elements.
func truncateKey(key interface{}, level int) interface{} {
	if level <= 0 {
		return key
	}
	arr, ok := key.([]interface{})
	if !ok {
		return key
	}
	if level < len(arr) {
		return arr[:level]
	}
	return arr
}

func keysEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

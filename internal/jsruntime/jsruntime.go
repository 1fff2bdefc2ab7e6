// Package jsruntime provides the sandboxed JavaScript evaluator used for
// map, reduce, and update function invocation. Each invocation gets a
// fresh goja.Runtime; no state is shared across documents.
package jsruntime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// Budget bounds a single invocation's wall-clock time. Bytecode steps are
// not counted: a non-zero MaxSteps only caps the call stack at 4096
// frames. A zero Budget disables both limits.
type Budget struct {
	Timeout  time.Duration
	MaxSteps uint64
}

// DefaultBudget matches the §4.3 defaults: 100ms per document, 1M steps.
var DefaultBudget = Budget{Timeout: 100 * time.Millisecond, MaxSteps: 1_000_000}

// Row is a single emitted key/value pair.
type Row struct {
	Key   interface{}
	Value interface{}
}

// Sandbox wraps a single-use goja.Runtime configured with the fixed
// global surface from §4.3: emit, sum, log, and the standard JSON/Math/
// Number/String/Array/Object builtins goja already provides. Date, I/O,
// and host access are never wired in.
type Sandbox struct {
	vm     *goja.Runtime
	budget Budget
	rows   []Row
	logs   []string
	steps  uint64
}

// NewSandbox constructs a fresh sandbox with the given budget.
func NewSandbox(budget Budget) *Sandbox {
	s := &Sandbox{vm: goja.New(), budget: budget}
	_ = s.vm.GlobalObject().Delete("Date")
	_ = s.vm.Set("emit", func(key, value goja.Value) {
		s.rows = append(s.rows, Row{Key: exportValue(key), Value: exportValue(value)})
	})
	_ = s.vm.Set("sum", func(arr goja.Value) float64 {
		var total float64
		exported := arr.Export()
		items, ok := exported.([]interface{})
		if !ok {
			return 0
		}
		for _, item := range items {
			if n, ok := toNumber(item); ok {
				total += n
			}
		}
		return total
	})
	_ = s.vm.Set("log", func(msg goja.Value) {
		s.logs = append(s.logs, msg.String())
	})
	if budget.MaxSteps > 0 {
		s.vm.SetMaxCallStackSize(4096)
	}
	return s
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func exportValue(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	// Deep-copy out through JSON, so numbers come out as float64 and the
	// result shares nothing with the runtime.
	exported := v.Export()
	raw, err := json.Marshal(exported)
	if err != nil {
		return exported
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return exported
	}
	return out
}

// Rows returns the emit-buffer accumulated so far.
func (s *Sandbox) Rows() []Row { return s.rows }

// Logs returns the diagnostic buffer accumulated so far.
func (s *Sandbox) Logs() []string { return s.logs }

// interrupt arms a wall-clock watchdog; callers must invoke the returned
// stop function once the call returns.
func (s *Sandbox) interrupt() func() {
	if s.budget.Timeout <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(s.budget.Timeout, func() {
		s.vm.Interrupt(errTimeout)
	})
	return func() { timer.Stop() }
}

var errTimeout = errors.New("jsruntime: time budget exceeded")

// RunMap compiles and evaluates a map function source against a single
// document, returning the rows it emitted. The function name in source
// must be exactly the map function literal, e.g. "function(doc) {...}".
func RunMap(source string, doc map[string]interface{}, budget Budget) ([]Row, []string, error) {
	s := NewSandbox(budget)
	fn, err := compileFunction(s.vm, source)
	if err != nil {
		return nil, nil, apperr.FunctionFailure("map function failed to compile", err)
	}
	stop := s.interrupt()
	_, err = fn(goja.Undefined(), s.vm.ToValue(doc))
	stop()
	if err != nil {
		return nil, nil, classifyErr(err, "map function")
	}
	return s.rows, s.logs, nil
}

// RunReduce evaluates a reduce function source with the given keys,
// values, and rereduce flag.
func RunReduce(source string, keys []interface{}, values []interface{}, rereduce bool, budget Budget) (interface{}, error) {
	s := NewSandbox(budget)
	fn, err := compileFunction(s.vm, source)
	if err != nil {
		return nil, apperr.FunctionFailure("reduce function failed to compile", err)
	}
	stop := s.interrupt()
	result, err := fn(goja.Undefined(), s.vm.ToValue(keys), s.vm.ToValue(values), s.vm.ToValue(rereduce))
	stop()
	if err != nil {
		return nil, classifyErr(err, "reduce function")
	}
	return exportValue(result), nil
}

// UpdateRequest describes the incoming HTTP request passed to an update
// function's second argument, per §4.3.
type UpdateRequest struct {
	Method  string                 `json:"method"`
	Headers map[string]string      `json:"headers"`
	Query   map[string]string      `json:"query"`
	Body    map[string]interface{} `json:"body"`
}

// UpdateResult is the decoded [new_doc|null, response] pair an update
// function returns.
type UpdateResult struct {
	NewDoc   map[string]interface{}
	Response map[string]interface{}
}

// RunUpdate evaluates an update function source against the current
// document (nil if absent) and the incoming request.
func RunUpdate(source string, doc map[string]interface{}, req UpdateRequest, budget Budget) (UpdateResult, error) {
	s := NewSandbox(budget)
	fn, err := compileFunction(s.vm, source)
	if err != nil {
		return UpdateResult{}, apperr.FunctionFailure("update function failed to compile", err)
	}

	var docArg goja.Value
	if doc == nil {
		docArg = goja.Null()
	} else {
		docArg = s.vm.ToValue(doc)
	}

	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	stop := s.interrupt()
	result, err := fn(goja.Undefined(), docArg, s.vm.ToValue(req))
	stop()
	if err != nil {
		return UpdateResult{}, classifyErr(err, "update function")
	}

	pair, ok := exportValue(result).([]interface{})
	if !ok || len(pair) != 2 {
		return UpdateResult{}, apperr.FunctionFailure("update function must return [doc, response]", nil)
	}

	out := UpdateResult{}
	if pair[0] != nil {
		newDoc, ok := pair[0].(map[string]interface{})
		if !ok {
			return UpdateResult{}, apperr.FunctionFailure("update function's new doc must be an object or null", nil)
		}
		out.NewDoc = newDoc
	}
	if pair[1] != nil {
		resp, ok := pair[1].(map[string]interface{})
		if !ok {
			return UpdateResult{}, apperr.FunctionFailure("update function's response must be an object", nil)
		}
		out.Response = resp
	}
	return out, nil
}

func compileFunction(vm *goja.Runtime, source string) (goja.Callable, error) {
	if _, err := vm.RunString("const __fn = (" + source + ")"); err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(vm.Get("__fn"))
	if !ok {
		return nil, fmt.Errorf("source did not evaluate to a function")
	}
	return fn, nil
}

func classifyErr(err error, what string) error {
	if errors.Is(err, errTimeout) {
		return apperr.FunctionFailure(what+" exceeded its time budget", err)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return apperr.FunctionFailure(what+" threw", errors.New(exc.String()))
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return apperr.FunctionFailure(what+" was interrupted", err)
	}
	return apperr.FunctionFailure(what+" failed", err)
}

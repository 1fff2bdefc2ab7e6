package jsruntime

import (
	"testing"
	"time"
)

func TestRunMapEmitsRows(t *testing.T) {
	doc := map[string]interface{}{"name": "alice", "age": 30.0}
	rows, _, err := RunMap(`function(doc) { emit(doc.name, doc.age); }`, doc, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Key != "alice" || rows[0].Value != 30.0 {
		t.Errorf("row = %+v, want {alice 30}", rows[0])
	}
}

func TestRunMapEmitsMultipleRows(t *testing.T) {
	doc := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	rows, _, err := RunMap(`function(doc) { doc.tags.forEach(function(t) { emit(t, 1); }); }`, doc, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestRunMapCompileError(t *testing.T) {
	_, _, err := RunMap(`not valid javascript {{{`, map[string]interface{}{}, DefaultBudget)
	if err == nil {
		t.Fatal("expected a compile error")
	}
}

func TestRunMapThrows(t *testing.T) {
	_, _, err := RunMap(`function(doc) { throw new Error("boom"); }`, map[string]interface{}{}, DefaultBudget)
	if err == nil {
		t.Fatal("expected an error from a throwing map function")
	}
}

func TestRunMapTimeoutBudget(t *testing.T) {
	budget := Budget{Timeout: 10 * time.Millisecond}
	_, _, err := RunMap(`function(doc) { while (true) {} }`, map[string]interface{}{}, budget)
	if err == nil {
		t.Fatal("expected a time-budget error for an infinite loop")
	}
}

func TestRunReduceSum(t *testing.T) {
	keys := []interface{}{"a", "b"}
	values := []interface{}{1.0, 2.0}
	got, err := RunReduce(`function(keys, values, rereduce) { return sum(values); }`, keys, values, false, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.0 {
		t.Errorf("RunReduce() = %v, want 3", got)
	}
}

func TestRunReduceRereduce(t *testing.T) {
	got, err := RunReduce(`function(keys, values, rereduce) { return sum(values); }`, nil, []interface{}{3.0, 4.0}, true, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7.0 {
		t.Errorf("RunReduce() = %v, want 7", got)
	}
}

func TestRunUpdateReturnsNewDoc(t *testing.T) {
	src := `function(doc, req) {
		if (!doc) { doc = {_id: req.query.id}; }
		doc.touched = true;
		return [doc, {code: 201, body: "ok"}];
	}`
	result, err := RunUpdate(src, nil, UpdateRequest{Query: map[string]string{"id": "x"}}, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if result.NewDoc == nil || result.NewDoc["touched"] != true {
		t.Errorf("NewDoc = %+v, want touched=true", result.NewDoc)
	}
	if result.Response["code"] != int64(201) && result.Response["code"] != 201.0 {
		t.Errorf("Response code = %v, want 201", result.Response["code"])
	}
}

func TestRunUpdateNullDoc(t *testing.T) {
	src := `function(doc, req) { return [null, {code: 404}]; }`
	result, err := RunUpdate(src, nil, UpdateRequest{}, DefaultBudget)
	if err != nil {
		t.Fatal(err)
	}
	if result.NewDoc != nil {
		t.Errorf("NewDoc = %+v, want nil", result.NewDoc)
	}
}

func TestRunUpdateInvalidReturnShape(t *testing.T) {
	_, err := RunUpdate(`function(doc, req) { return "not a pair"; }`, nil, UpdateRequest{}, DefaultBudget)
	if err == nil {
		t.Fatal("expected an error for a malformed update-function return value")
	}
}

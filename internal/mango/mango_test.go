package mango

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
)

func TestTranslateBareEquality(t *testing.T) {
	got, err := Translate(map[string]interface{}{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"name": "alice"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}
}

func TestTranslateOperators(t *testing.T) {
	got, err := Translate(map[string]interface{}{"age": map[string]interface{}{"$gt": 21.0}})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"age": bson.M{"$gt": 21.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}
}

func TestTranslateType(t *testing.T) {
	got, err := Translate(map[string]interface{}{"tags": map[string]interface{}{"$type": "array"}})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"tags": bson.M{"$type": "array"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}

	if _, err := Translate(map[string]interface{}{"tags": map[string]interface{}{"$type": "bogus"}}); err == nil {
		t.Error("expected error for unknown $type name")
	}
}

func TestTranslateNot(t *testing.T) {
	got, err := Translate(map[string]interface{}{"$not": map[string]interface{}{"age": 5.0}})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"$nor": []bson.M{{"age": 5.0}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}
}

func TestTranslateAndOr(t *testing.T) {
	sel := map[string]interface{}{
		"$and": []interface{}{
			map[string]interface{}{"a": 1.0},
			map[string]interface{}{"b": 2.0},
		},
	}
	got, err := Translate(sel)
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"$and": []bson.M{{"a": 1.0}, {"b": 2.0}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}
}

func TestTranslateUnsupportedOperator(t *testing.T) {
	_, err := Translate(map[string]interface{}{"loc": map[string]interface{}{"$near": []interface{}{0.0, 0.0}}})
	if err == nil {
		t.Fatal("expected an unsupported-operator error")
	}
}

func TestTranslateLiteralObjectEquality(t *testing.T) {
	got, err := Translate(map[string]interface{}{"addr": map[string]interface{}{"city": "nyc"}})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.M{"addr": map[string]interface{}{"city": "nyc"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Translate() mismatch:\n%s", diff)
	}
}

func TestSort(t *testing.T) {
	got, err := Sort([]interface{}{"name", map[string]interface{}{"age": "desc"}})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.D{{Key: "name", Value: 1}, {Key: "age", Value: -1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sort() mismatch:\n%s", diff)
	}
}

func TestParseSelectorEmpty(t *testing.T) {
	got, err := ParseSelector(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("ParseSelector(nil) = %v, want empty", got)
	}
}

func TestParseSelectorInvalidJSON(t *testing.T) {
	if _, err := ParseSelector([]byte("{not json")); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

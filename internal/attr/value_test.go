package attr

import (
	"encoding/json"
	"testing"
)

func TestEqualDoesNotCoerce(t *testing.T) {
	if String("1").Equal(Number(1)) {
		t.Fatalf("string and number must not be equal")
	}
	if !Number(3).Equal(MustOf(int64(3))) {
		t.Fatalf("expected integer widths to compare equal")
	}
	if Bool(true).Equal(String("true")) {
		t.Fatalf("bool and string must not be equal")
	}
	if !Null().Equal(MustOf(nil)) {
		t.Fatalf("expected nil to map to null")
	}
}

func TestCompare(t *testing.T) {
	if c, ok := Number(2).Compare(Number(5)); !ok || c >= 0 {
		t.Fatalf("expected 2 < 5, got %d %v", c, ok)
	}
	if c, ok := String("b").Compare(String("a")); !ok || c <= 0 {
		t.Fatalf("expected b > a, got %d %v", c, ok)
	}
	if _, ok := String("5").Compare(Number(5)); ok {
		t.Fatalf("mixed kinds must not be comparable")
	}
}

func TestContainsAndIn(t *testing.T) {
	list := Strings("u1", "u2")
	if !list.Contains(String("u2")) {
		t.Fatalf("expected list to contain u2")
	}
	if !String("u1").In(list) {
		t.Fatalf("expected u1 in list")
	}
	if String("u3").In(list) {
		t.Fatalf("u3 is not in list")
	}
	if !String("maintenance-request").Contains(String("request")) {
		t.Fatalf("expected substring match")
	}
}

func TestBagLookup(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(`{"resourceData":{"ownerId":"u1","tags":["a","b"],"amount":12}}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := Bag(decoded)

	v, ok := b.Lookup("resourceData.ownerId")
	if !ok || !v.Equal(String("u1")) {
		t.Fatalf("unexpected owner lookup: %v %v", v, ok)
	}
	if v, _ := b.Lookup("resourceData.amount"); !v.Equal(Number(12)) {
		t.Fatalf("unexpected amount: %v", v)
	}
	if v, _ := b.Lookup("resourceData.tags"); !v.Contains(String("b")) {
		t.Fatalf("expected tags to contain b")
	}
	if _, ok := b.Lookup("resourceData.missing"); ok {
		t.Fatalf("missing path must not be found")
	}
	if !b.Has("resourceData") {
		t.Fatalf("expected object path to exist")
	}
	if b.Text("resourceData.ownerId") != "u1" {
		t.Fatalf("unexpected text lookup")
	}
}

func TestValueJSON(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`["admin", 3, true]`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	items, ok := v.Items()
	if !ok || len(items) != 3 {
		t.Fatalf("expected 3 items, got %v", items)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `["admin",3,true]` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

package identity

import "testing"

func TestConstantIDDeterministic(t *testing.T) {
	id1, ok1, err := ConstantID(float64(42))
	if err != nil || !ok1 {
		t.Fatalf("unexpected: id=%v ok=%v err=%v", id1, ok1, err)
	}
	id2, ok2, err := ConstantID(float64(42))
	if err != nil || !ok2 {
		t.Fatalf("unexpected: id=%v ok=%v err=%v", id2, ok2, err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical ids for identical constants: %q vs %q", id1, id2)
	}
}

func TestConstantIDDiffersByValue(t *testing.T) {
	id1, _, _ := ConstantID(float64(1))
	id2, _, _ := ConstantID(float64(2))
	if id1 == id2 {
		t.Fatal("expected distinct ids for distinct constants")
	}
}

func TestConstantIDNonIdentifiable(t *testing.T) {
	_, ok, err := ConstantID(func() {})
	if err != nil {
		t.Fatalf("non-identifiable constants must not error: %v", err)
	}
	if ok {
		t.Fatal("expected function value to be non-identifiable")
	}
}

type fakeImage struct{ pixels string }

func (f fakeImage) CanonicalValue() (any, error) {
	return map[string]any{"pixels": f.pixels}, nil
}

func TestConstantIDIdentifiableInterface(t *testing.T) {
	id1, ok, err := ConstantID(fakeImage{pixels: "abc"})
	if err != nil || !ok {
		t.Fatalf("expected identifiable image: ok=%v err=%v", ok, err)
	}
	id2, _, _ := ConstantID(fakeImage{pixels: "abc"})
	if id1 != id2 {
		t.Fatal("expected identical ids for identical image content")
	}
	id3, _, _ := ConstantID(fakeImage{pixels: "xyz"})
	if id1 == id3 {
		t.Fatal("expected distinct ids for distinct image content")
	}
}

func TestOperationIDArgumentOrderIrrelevant(t *testing.T) {
	a, err := OperationID("add", map[string]NodeID{"0": "n1", "1": "n2"})
	if err != nil {
		t.Fatal(err)
	}
	// Go maps have no iteration order; rebuild in a different insertion order
	// to confirm the resulting id depends only on content, not insertion order.
	args := map[string]NodeID{}
	args["1"] = "n2"
	args["0"] = "n1"
	b, err := OperationID("add", args)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected operation id independent of map insertion order")
	}
}

func TestOperationIDDiffersByOperator(t *testing.T) {
	a, _ := OperationID("add", map[string]NodeID{"0": "n1"})
	b, _ := OperationID("sub", map[string]NodeID{"0": "n1"})
	if a == b {
		t.Fatal("expected distinct ids for distinct operators")
	}
}

func TestClosureIDSortsEntriesByName(t *testing.T) {
	a, err := ClosureID([]string{"x"}, "bodyhash", []ClosureEntry{
		{Name: "b", ID: "2"},
		{Name: "a", ID: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ClosureID([]string{"x"}, "bodyhash", []ClosureEntry{
		{Name: "a", ID: "1"},
		{Name: "b", ID: "2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected closure id independent of entry order")
	}
}

func TestBodyHashDeterministic(t *testing.T) {
	body := map[string]any{"op": "+", "args": []any{"a", "b"}}
	h1, err := BodyHash(body)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := BodyHash(body)
	if h1 != h2 {
		t.Fatal("expected deterministic body hash")
	}
}

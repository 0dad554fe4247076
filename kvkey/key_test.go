package kvkey

import "testing"

func TestExtendDoesNotMutateReceiver(t *testing.T) {
	base := Key{S("users"), S("id")}
	a := Extend(base, S("abc"))
	b := Extend(base, S("xyz"))

	if Equal(a, b) {
		t.Fatalf("expected distinct keys, got equal: %v vs %v", a, b)
	}
	if len(base) != 2 {
		t.Fatalf("Extend mutated the receiver: %v", base)
	}
}

func TestEqual(t *testing.T) {
	a := Key{S("users"), I(1), B([]byte("x"))}
	b := Key{S("users"), I(1), B([]byte("x"))}
	c := Key{S("users"), I(2), B([]byte("x"))}

	if !Equal(a, b) {
		t.Fatalf("expected a == b")
	}
	if Equal(a, c) {
		t.Fatalf("expected a != c")
	}
}

func TestHasPrefix(t *testing.T) {
	k := Key{S("kvdoc"), S("users"), S("id"), S("abc")}
	if !HasPrefix(k, Key{S("kvdoc"), S("users")}) {
		t.Fatalf("expected prefix match")
	}
	if HasPrefix(k, Key{S("kvdoc"), S("posts")}) {
		t.Fatalf("expected prefix mismatch")
	}
	if HasPrefix(Key{S("a")}, Key{S("a"), S("b")}) {
		t.Fatalf("prefix longer than key must not match")
	}
}

func TestTrailingID(t *testing.T) {
	k := Key{S("kvdoc"), S("users"), S("id"), S("abc123")}
	id, ok := TrailingID(k)
	if !ok || id.Str != "abc123" {
		t.Fatalf("expected trailing id abc123, got %v ok=%v", id, ok)
	}

	_, ok = TrailingID(Key{S("kvdoc"), S("users"), S("primary_index"), S("email"), S("x")})
	if ok {
		t.Fatalf("expected no trailing id for non-id key")
	}
}

func TestCompareOrdering(t *testing.T) {
	a := Key{S("a")}
	b := Key{S("b")}
	if Compare(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if Compare(a, a) != 0 {
		t.Fatalf("expected a == a")
	}

	neg := Key{I(-5)}
	pos := Key{I(5)}
	if Compare(neg, pos) >= 0 {
		t.Fatalf("expected negative int to sort before positive int, got order violation")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	k := Key{S("kvdoc"), S("users"), U(3)}
	if string(k.Encode()) != string(Extend(Key{S("kvdoc"), S("users")}, U(3)).Encode()) {
		t.Fatalf("expected identical encodings for equal keys")
	}
}

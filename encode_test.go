package strata

import "testing"

func TestEncodeDecodeSSTableKeyRoundTrip(t *testing.T) {
	base := encodeBaseKey("docs", []byte(`"1"`))
	full := encodeSSTableKey(base, 42)

	gotBase, seq, hasSeq := decodeSSTableKey(full)
	if !hasSeq {
		t.Fatalf("expected suffix to be detected")
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
	if string(gotBase) != string(base) {
		t.Fatalf("base key mismatch: got %q want %q", gotBase, base)
	}

	collection, idJSON, ok := splitBaseKey(gotBase)
	if !ok || collection != "docs" || string(idJSON) != `"1"` {
		t.Fatalf("splitBaseKey = (%q, %q, %v)", collection, idJSON, ok)
	}
}

func TestDecodeSSTableKeyRejectsBareBaseKey(t *testing.T) {
	base := encodeBaseKey("docs", []byte(`"a-much-longer-identifier"`))
	_, _, hasSeq := decodeSSTableKey(base)
	if hasSeq {
		t.Fatalf("a bare base key must never look like it carries a sequence suffix")
	}
}

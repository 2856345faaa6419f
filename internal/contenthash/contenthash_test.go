package contenthash_test

import (
	"testing"

	"github.com/staykeeper/custody/internal/contenthash"
)

func TestSum_jsonSnapshotKeyOrderIndependent(t *testing.T) {
	h1, err := contenthash.Sum(contenthash.SourceJSONSnapshot, []byte(`{"guest":"A. Smith","nights":4}`))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := contenthash.Sum(contenthash.SourceJSONSnapshot, []byte(`{"nights":4,"guest":"A. Smith"}`))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("reordered json snapshot hashes differ: %s vs %s", h1, h2)
	}
}

func TestSum_jsonSnapshotStructuralChange(t *testing.T) {
	h1, _ := contenthash.Sum(contenthash.SourceJSONSnapshot, []byte(`{"nights":4}`))
	h2, _ := contenthash.Sum(contenthash.SourceJSONSnapshot, []byte(`{"nights":5}`))
	if h1 == h2 {
		t.Error("structurally different snapshots must hash differently")
	}
}

func TestSum_opaqueSourcesHashRawBytes(t *testing.T) {
	// The same logical JSON in different encodings must produce different
	// hashes when treated as an opaque file: bytes are the identity.
	a := []byte(`{"a":1,"b":2}`)
	b := []byte(`{"b":2,"a":1}`)

	for _, src := range []contenthash.SourceType{
		contenthash.SourceManualNote,
		contenthash.SourceFileR2,
		contenthash.SourceURLSnapshot,
	} {
		h1, err := contenthash.Sum(src, a)
		if err != nil {
			t.Fatal(err)
		}
		h2, err := contenthash.Sum(src, b)
		if err != nil {
			t.Fatal(err)
		}
		if h1 == h2 {
			t.Errorf("%s: re-encoded bytes must not hash equal", src)
		}
		if len(h1) != 64 {
			t.Errorf("%s: expected 64 hex chars, got %d", src, len(h1))
		}
	}
}

func TestSum_unknownSource(t *testing.T) {
	if _, err := contenthash.Sum("carrier_pigeon", []byte("x")); err == nil {
		t.Error("expected error for unknown source type")
	}
}

func TestSumCanonical_matchesSum(t *testing.T) {
	fromValue, err := contenthash.SumCanonical(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	fromBytes, err := contenthash.Sum(contenthash.SourceJSONSnapshot, []byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if fromValue != fromBytes {
		t.Errorf("SumCanonical and Sum disagree: %s vs %s", fromValue, fromBytes)
	}
}

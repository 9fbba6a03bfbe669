package id

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewIsUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		v := New()
		if v.IsZero() {
			t.Fatal("New returned the zero ID")
		}
		if seen[v] {
			t.Fatalf("duplicate ID %s", v)
		}
		seen[v] = true
	}
}

func TestParseRoundTrip(t *testing.T) {
	v := New()
	got, err := Parse(v.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got != v {
		t.Fatalf("got %s, want %s", got, v)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-an-id"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestFromBytes(t *testing.T) {
	v := New()
	got, err := FromBytes(v.Bytes())
	if err != nil || got != v {
		t.Fatalf("FromBytes round trip failed: %v", err)
	}
	if _, err := FromBytes([]byte{1, 2, 3}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for short input, got %v", err)
	}
}

func TestJSONUsesText(t *testing.T) {
	v := MustParse("0b9f8a8e-7d1c-4c55-9f0a-4f3c2f7e1a10")
	data, err := json.Marshal(struct {
		ID ID `json:"id"`
	}{v})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":"0b9f8a8e-7d1c-4c55-9f0a-4f3c2f7e1a10"}` {
		t.Fatalf("unexpected JSON %s", data)
	}
	var back struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != v {
		t.Fatalf("got %s, want %s", back.ID, v)
	}
}

func TestCBORRejectsWrongLength(t *testing.T) {
	v := New()
	data, err := v.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	var back ID
	if err := back.UnmarshalCBOR(data); err != nil || back != v {
		t.Fatalf("round trip failed: %v", err)
	}

	// bytes(3) 01 02 03
	if err := back.UnmarshalCBOR([]byte{0x43, 1, 2, 3}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for short input, got %v", err)
	}
	if back != v {
		t.Fatal("failed decode modified the ID")
	}
}

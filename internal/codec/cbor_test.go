package codec

import (
	"bytes"
	"testing"
	"time"
)

type record struct {
	Name   string            `cbor:"name"`
	At     time.Time         `cbor:"at"`
	Labels map[string]string `cbor:"labels,omitempty"`
}

func TestMarshal_DeterministicMapOrder(t *testing.T) {
	a := record{Name: "run", Labels: map[string]string{"b": "2", "a": "1", "c": "3"}}
	b := record{Name: "run", Labels: map[string]string{"c": "3", "a": "1", "b": "2"}}

	first, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("equal values encoded to different bytes")
		}
	}
}

func TestUnmarshal_KeepsNanoseconds(t *testing.T) {
	at := time.Date(2026, 10, 15, 2, 0, 0, 123456789, time.UTC)
	data, err := Marshal(record{Name: "run", At: at})
	if err != nil {
		t.Fatal(err)
	}
	var got record
	if err := Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.At.Equal(at) {
		t.Errorf("At = %v, want %v", got.At, at)
	}
}

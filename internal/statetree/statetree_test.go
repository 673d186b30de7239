package statetree

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	root := New("Preset")
	root.Set("name", "bass patch").SetFloat("bpm", 132.5).SetInt("version", 2)
	ch := root.AddChild("Channel")
	ch.Set("name", "cutoff")
	ch.AddChild("Key").SetFloat("pos", 0).SetFloat("value", 0.25)
	ch.AddChild("Key").SetFloat("pos", 1.5).SetFloat("value", 0.75)

	var buf bytes.Buffer
	if err := root.EncodeXML(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeXML(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.String("name", "") != "bass patch" {
		t.Fatalf("name = %q", got.String("name", ""))
	}
	if got.Float("bpm", 0) != 132.5 {
		t.Fatalf("bpm = %v", got.Float("bpm", 0))
	}
	keys := got.Child("Channel").ChildrenNamed("Key")
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[1].Float("pos", -1) != 1.5 {
		t.Fatalf("second key pos = %v", keys[1].Float("pos", -1))
	}
}

func TestNilNodeAccessorsReturnDefaults(t *testing.T) {
	var n *Node
	if n.String("x", "fallback") != "fallback" {
		t.Fatal("nil node should return default string")
	}
	if n.Float("x", 3.5) != 3.5 {
		t.Fatal("nil node should return default float")
	}
	if n.Child("anything") != nil {
		t.Fatal("nil node child should be nil")
	}
	if n.Int("x", 7) != 7 || n.Bool("x", true) != true {
		t.Fatal("nil node should return defaults")
	}
}

func TestMalformedAttributesDefault(t *testing.T) {
	n := New("M").Set("f", "not-a-number").Set("i", "1.5").Set("b", "maybe")
	if n.Float("f", 2) != 2 {
		t.Fatal("unparseable float should default")
	}
	if n.Int("i", 9) != 9 {
		t.Fatal("unparseable int should default")
	}
	if n.Bool("b", false) != false {
		t.Fatal("unparseable bool should default")
	}
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	if _, err := DecodeXML(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestDecodeSkipsCommentsAndText(t *testing.T) {
	in := `<?xml version="1.0"?><!-- c --><Root a="1">text<Kid/>more</Root>`
	n, err := DecodeXML(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Int("a", 0) != 1 || n.Child("Kid") == nil {
		t.Fatal("structure lost")
	}
}

func TestMarshalSanitizesBadElementName(t *testing.T) {
	root := New("has space")
	var buf bytes.Buffer
	if err := root.EncodeXML(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(buf.String(), "<Node") {
		t.Fatalf("expected sanitized element name, got %s", buf.String())
	}
}

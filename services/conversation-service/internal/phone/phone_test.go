package phone

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	if got := Normalize("+54 9 (11) 2345-6789"); got != "5491123456789" {
		t.Fatalf("unexpected digits %q", got)
	}
	if got := Normalize("whatsapp:"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestCanonicalVariantsConverge(t *testing.T) {
	n := NewNormalizer("54", "9")
	inputs := []string{
		"+54 9 11 2345-6789",
		"5491123456789",
		"91123456789",
		"541123456789",
		"1123456789",
		"whatsapp:+5491123456789",
		"0054 9 11 2345 6789",
	}
	for _, in := range inputs {
		if got := n.Canonical(in); got != "5491123456789" {
			t.Errorf("Canonical(%q) = %q", in, got)
		}
	}
	if got := n.Format("91123456789"); got != "+5491123456789" {
		t.Fatalf("unexpected format %q", got)
	}
}

func TestCanonicalKeepsForeignNumbers(t *testing.T) {
	n := NewNormalizer("54", "9")
	tests := []struct {
		in   string
		want string
	}{
		{"+1 415 555 2671", "14155552671"},
		{"whatsapp:+14155552671", "14155552671"},
		{"0034 612 345 678", "34612345678"},
		{"+598 94 123 456", "59894123456"},
		// National spellings still get the local convention.
		{"11 2345 6789", "5491123456789"},
	}
	for _, tt := range tests {
		if got := n.Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := n.Format("+1 415 555 2671"); got != "+14155552671" {
		t.Fatalf("reply address rewritten to %q", got)
	}

	got := n.Patterns("+14155552671")
	want := []string{"+14155552671", "14155552671"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected foreign patterns:\n got %v\nwant %v", got, want)
	}
}

func TestPatterns(t *testing.T) {
	n := NewNormalizer("54", "9")
	got := n.Patterns("+54 9 11 2345-6789")
	want := []string{
		"+54 9 11 2345-6789",
		"+5491123456789",
		"5491123456789",
		"541123456789",
		"+541123456789",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected patterns:\n got %v\nwant %v", got, want)
	}

	// Raw input equal to the canonical form is not repeated.
	got = n.Patterns("5491123456789")
	if len(got) != 4 {
		t.Fatalf("expected 4 unique patterns, got %v", got)
	}

	if got := n.Patterns("   "); len(got) != 0 {
		t.Fatalf("expected empty patterns for blank input")
	}
}

func TestTransportPrefix(t *testing.T) {
	if got := ToTransport("+5491123456789"); got != "whatsapp:+5491123456789" {
		t.Fatalf("unexpected transport address %q", got)
	}
	if got := ToTransport("whatsapp:+5491123456789"); got != "whatsapp:+5491123456789" {
		t.Fatalf("prefix must not be doubled, got %q", got)
	}
	if got := FromTransport("whatsapp:+5491123456789"); got != "+5491123456789" {
		t.Fatalf("unexpected plain address %q", got)
	}
}

package checksum

import "testing"

func TestSumKnownValue(t *testing.T) {
	// Fixed vector: sha256("hello").
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := Sum([]byte("hello")); got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestNormalizeStripsTrailingWhitespace(t *testing.T) {
	in := "line one  \nline two\t\r\n"
	want := "line one\nline two\n"
	if got := Normalize(in); got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeTrimsBlankEdges(t *testing.T) {
	in := "\n\n  \nbody text\n\n\n"
	want := "body text\n"
	if got := Normalize(in); got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestFingerprintIgnoresTrailingWhitespace(t *testing.T) {
	a := Fingerprint("same text")
	b := Fingerprint("same text   \n\n")
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
	if c := Fingerprint("different text"); c == a {
		t.Error("distinct texts produced the same fingerprint")
	}
}

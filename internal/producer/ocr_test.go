package producer

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello world", "hello world"},
		{"  padded  ", "padded"},
		{"line1\nline2", "line1\nline2"},
		{"tab\tseparated", "tab\tseparated"},
		{"control\x00\x08chars", "controlchars"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeText(tc.in); got != tc.want {
			t.Errorf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestThumbnailDefaults(t *testing.T) {
	th := NewThumbnail("", 0)
	if th.gsPath != "gs" {
		t.Errorf("gsPath = %q, want gs", th.gsPath)
	}
	if th.width != 512 {
		t.Errorf("width = %d, want 512", th.width)
	}
}

package slaveengine

import "testing"

func TestSniffExtensionFromOriginalFile(t *testing.T) {
	if got := sniffExtension("/a/logo.PNG", []byte{0xFF, 0xD8, 0xFF}); got != "png" {
		t.Fatalf("expected extension from original file to win, got %q", got)
	}
}

func TestSniffExtensionFromMagicBytes(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpg"},
		{"gif", []byte("GIF89a"), "gif"},
		{"bmp", []byte{0x42, 0x4D, 0x00, 0x00}, "bmp"},
		{"webp", append([]byte("RIFF"), append([]byte{0, 0, 0, 0}, []byte("WEBP")...)...), "webp"},
		{"unknown", []byte{0x00, 0x01, 0x02}, "png"},
	}
	for _, c := range cases {
		if got := sniffExtension("", c.data); got != c.want {
			t.Errorf("%s: sniffExtension() = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestSanitizeStemReplacesSeparators(t *testing.T) {
	if got := sanitizeStem(`a/b\c`); got != "a_b_c" {
		t.Fatalf("sanitizeStem = %q, want a_b_c", got)
	}
}

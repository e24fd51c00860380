package inference

import (
	"bytes"
	"strings"
	"testing"
)

func TestDecodeBase64Image(t *testing.T) {
	b64 := EncodeImageBytesBase64(testJPEG)

	tests := []struct {
		name  string
		input string
	}{
		{"bare base64", b64},
		{"data URI", "data:image/jpeg;base64," + b64},
		{"padded whitespace", "  " + b64 + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeBase64Image(tt.input)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !bytes.Equal(data, testJPEG) {
				t.Error("decoded bytes do not match original")
			}
		})
	}
}

func TestDecodeBase64ImageUnpadded(t *testing.T) {
	// 11 bytes encode with trailing padding; some clients strip it.
	want := testJPEG[:11]
	unpadded := strings.TrimRight(EncodeImageBytesBase64(want), "=")

	data, err := DecodeBase64Image(unpadded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(data, want) {
		t.Error("decoded bytes do not match original")
	}
}

func TestDecodeBase64ImageInvalid(t *testing.T) {
	if _, err := DecodeBase64Image("not*base64*at*all"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := DecodeBase64Image("data:image/jpeg;base64"); err == nil {
		t.Error("expected error for malformed data URI")
	}
}

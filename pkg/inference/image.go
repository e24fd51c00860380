package inference

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeImageBytesBase64 encodes raw JPEG bytes to base64.
func EncodeImageBytesBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64Image decodes a base64 image payload to raw bytes.
// Accepts both bare base64 and data URIs ("data:image/jpeg;base64,...").
func DecodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("inference: malformed data URI")
		}
		s = s[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("inference: decode base64 image: %w", err)
	}
	return data, nil
}

package util

import (
	"encoding/base64"
)

// EncodeID renders the leading length characters of the unpadded base64url
// form of d. The result is always URL and filesystem safe.
func EncodeID(d Digest, length int) string {
	enc := base64.RawURLEncoding.EncodeToString(d[:])
	if length <= 0 || length > len(enc) {
		return enc
	}
	return enc[:length]
}

func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

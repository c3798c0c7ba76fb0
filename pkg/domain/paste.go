package domain

import (
	"regexp"
)

const (
	DefaultIDLength = 9
	MaxIDLength     = 32
	KeyPrefix       = "pastes/"
)

// IDPattern matches ids produced with the default length.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{9}$`)

// Paste is a validated upload ready to be stored under Key. Digest is the hex
// content hash, kept alongside the bytes so truncated-id collisions can be
// audited offline.
type Paste struct {
	ID     string
	Key    string
	Digest string
	Data   []byte
}

type UploadResp struct {
	ID string `json:"id"`
}

type Oembed struct {
	Type         string `json:"type"`
	Version      string `json:"version"`
	ProviderName string `json:"provider_name"`
	ProviderURL  string `json:"provider_url"`
}

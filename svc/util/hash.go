package util

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const DigestSize = blake2b.Size256

// Digest is the BLAKE2b-256 sum of a paste body.
type Digest [DigestSize]byte

func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

func newHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for an oversized key
		panic(err)
	}
	return h
}

// HashContent streams r through the content hash.
func HashContent(r io.Reader) (Digest, error) {
	var d Digest
	h := newHasher()
	if _, err := io.Copy(h, r); err != nil {
		return d, errors.Wrap(err, "hash content")
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

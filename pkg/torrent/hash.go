package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

const HashSize = sha1.Size

type Hash [HashSize]byte

// HashFromBytes fails unless b is exactly HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	return Hash(b), nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero despite zero hash is completely valid SHA1, we assume it as nil value to not deal with nil checks,
// we are not so lucky to find real zero hash
func (h Hash) IsZero() bool {
	return h == Hash{}
}

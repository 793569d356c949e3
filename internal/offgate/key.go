package offgate

import (
	"encoding/hex"
	"fmt"

	sha256 "github.com/minio/sha256-simd"
)

// keySize contains the size of a Key, in bytes.
const keySize = sha256.Size

// Key identifies a cached request. Two requests with the same method and URL
// map to the same entry, matching the cache-key rules of RFC 9111 §2.
type Key [keySize]byte

// KeyFor returns the cache key for a request identified by method and URL.
func KeyFor(method, url string) Key {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// ParseKey converts the given string to a Key.
func ParseKey(s string) (Key, error) {
	if len(s) != hex.EncodedLen(keySize) {
		return Key{}, fmt.Errorf("invalid length for key: %q", s)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid key: %s", err)
	}

	k := Key{}
	copy(k[:], b)

	return k, nil
}

const shortStr = 4

// Str returns the shortened string version of k for logs.
func (k *Key) Str() string {
	if k == nil {
		return "[nil]"
	}
	return hex.EncodeToString(k[:shortStr])
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Equal compares a Key to another other.
func (k Key) Equal(other Key) bool {
	return k == other
}

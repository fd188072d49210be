package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// DefaultAlgorithm is used when initialization mode is not given one.
const DefaultAlgorithm = "sha256"

var registry = map[string]func() hash.Hash{
	"md5":        md5.New,
	"sha1":       sha1.New,
	"sha224":     sha256.New224,
	"sha256":     sha256.New,
	"sha384":     sha512.New384,
	"sha512":     sha512.New,
	"sha512_224": sha512.New512_224,
	"sha512_256": sha512.New512_256,
	"sha3_224":   sha3.New224,
	"sha3_256":   sha3.New256,
	"sha3_384":   sha3.New384,
	"sha3_512":   sha3.New512,
	"blake2b_256": func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	"blake2b_512": func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
	"blake2s_256": func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	},
	"blake3":   func() hash.Hash { return blake3.New(32, nil) },
	"xxh3_64":  func() hash.Hash { return &xxh3Hash{h: xxh3.New()} },
	"xxh3_128": func() hash.Hash { return &xxh3Hash{h: xxh3.New(), wide: true} },
	"xxhash64": func() hash.Hash { return xxhash.New() },
}

// aliases map unsized names onto the full-width variant, the way hashlib
// names them.
var aliases = map[string]string{
	"blake2b": "blake2b_512",
	"blake2s": "blake2s_256",
}

// Normalize folds an algorithm name into its registry key: lower case,
// with '-' accepted for '_' and aliases resolved.
func Normalize(name string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return key
}

// Supported reports whether name resolves to a registered algorithm.
func Supported(name string) bool {
	_, ok := registry[Normalize(name)]
	return ok
}

// New returns a fresh hash for name.
func New(name string) (hash.Hash, error) {
	ctor, ok := registry[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
	return ctor(), nil
}

// Available returns the registered algorithm names in sorted order.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// xxh3Hash exposes the streaming xxh3 hasher as a hash.Hash producing the
// big-endian 64 or 128 bit sum.
type xxh3Hash struct {
	h    *xxh3.Hasher
	wide bool
}

func (x *xxh3Hash) Write(p []byte) (int, error) { return x.h.Write(p) }

func (x *xxh3Hash) Reset() { x.h.Reset() }

func (x *xxh3Hash) BlockSize() int { return 64 }

func (x *xxh3Hash) Size() int {
	if x.wide {
		return 16
	}
	return 8
}

func (x *xxh3Hash) Sum(b []byte) []byte {
	if x.wide {
		sum := x.h.Sum128().Bytes()
		return append(b, sum[:]...)
	}
	return binary.BigEndian.AppendUint64(b, x.h.Sum64())
}

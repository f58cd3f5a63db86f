package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/arrayforge/arrayforge/pkg/compiler"
)

// Version is the framework version mixed into every cache key. Bumping it
// invalidates all cached executables at once.
const Version = "0.1.0"

// Key identifies a compiled executable in the cache.
type Key string

// NewKey derives the cache key for compiling a module with the given
// options on a platform. The digest covers everything that determines the
// compiled artifact.
func NewKey(module *compiler.Module, opts *compiler.Options, platform string) Key {
	h := sha256.New()

	// Length prefixes keep field boundaries unambiguous.
	writeField := func(b []byte) {
		var n [8]byte
		size := uint64(len(b))
		for i := 0; i < 8; i++ {
			n[i] = byte(size >> (8 * i))
		}
		h.Write(n[:])
		h.Write(b)
	}

	writeField(module.Bytecode())
	writeField(opts.Fingerprint())
	writeField([]byte(platform))
	writeField([]byte(Version))

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// String returns the hex digest.
func (k Key) String() string { return string(k) }

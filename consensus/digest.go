package consensus

import "github.com/tolelom/tolchain/crypto"

// Digest concatenates parts and returns their SHA-256 hash. It underlies
// both the generation-signature derivation and the hit computation; both are
// defined purely in terms of Digest so a change to the hash primitive only
// has one place to change.
func Digest(parts ...[]byte) [32]byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	var out [32]byte
	copy(out[:], crypto.HashBytes(buf))
	return out
}

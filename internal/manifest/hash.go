package manifest

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/project-rman/rman/internal/rbyte"
)

// hkdfMix is RITO_HKDF's internal mixing step. It is not RFC 5869 HKDF; it
// is an HMAC-flavored construction that XOR-folds 32 rounds of
// SHA-256(opad || SHA-256(ipad || t)) into the low 8 bytes of a 64-byte
// key block, the first round seeded with a literal big-endian counter of
// 1 instead of a digest. Every chunk ID minted with HashRitoHKDF depends
// on this construction staying bit-exact.
func hkdfMix(block *[64]byte) {
	var ipad, opad [64]byte
	for i := range block {
		ipad[i] = block[i] ^ 0x36
		opad[i] = block[i] ^ 0x5c
	}

	inner := sha256.New()
	inner.Write(ipad[:])
	inner.Write([]byte{0x00, 0x00, 0x00, 0x01})
	tmp := inner.Sum(nil)

	outer := sha256.New()
	outer.Write(opad[:])
	outer.Write(tmp)
	tmp = outer.Sum(nil)

	copy(block[:8], tmp[:8])

	for round := 0; round < 31; round++ {
		inner := sha256.New()
		inner.Write(ipad[:])
		inner.Write(tmp)
		tmp = inner.Sum(nil)

		outer := sha256.New()
		outer.Write(opad[:])
		outer.Write(tmp)
		tmp = outer.Sum(nil)

		for i := 0; i < 8; i++ {
			block[i] ^= tmp[i]
		}
	}
}

// Hash computes a chunk's content identifier for the given hash
// construction. HashNone always yields the zero ChunkID, matching chunks
// whose bundle carries no verifiable identity (legacy bundles).
func Hash(data []byte, hashType rbyte.HashType) rbyte.ChunkID {
	var block [64]byte
	switch hashType {
	case rbyte.HashNone:
		return 0
	case rbyte.HashSHA512:
		sum := sha512.Sum512(data)
		copy(block[:], sum[:])
	case rbyte.HashSHA256:
		sum := sha256.Sum256(data)
		copy(block[:32], sum[:])
	case rbyte.HashRitoHKDF:
		sum := sha256.Sum256(data)
		copy(block[:32], sum[:])
		hkdfMix(&block)
	default:
		return 0
	}
	return rbyte.ChunkID(leU64(block[:8]))
}

// DetectHashType tries every known construction against data in a fixed
// order (SHA-256, then RITO_HKDF reusing that SHA-256 round, then
// SHA-512) and reports which one, if any, reproduces want.
func DetectHashType(data []byte, want rbyte.ChunkID) rbyte.HashType {
	sum := sha256.Sum256(data)
	var block [64]byte
	copy(block[:32], sum[:])

	if rbyte.ChunkID(leU64(block[:8])) == want {
		return rbyte.HashSHA256
	}

	hkdfBlock := block
	hkdfMix(&hkdfBlock)
	if rbyte.ChunkID(leU64(hkdfBlock[:8])) == want {
		return rbyte.HashRitoHKDF
	}

	sum512 := sha512.Sum512(data)
	if rbyte.ChunkID(leU64(sum512[:8])) == want {
		return rbyte.HashSHA512
	}

	return rbyte.HashNone
}

func leU64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

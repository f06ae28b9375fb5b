package manifest

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/rbyte"
)

const headerMagic = 0x4e414d52 // "RMAN" little-endian

// envelope is the fixed-size header in front of the zstd-compressed body.
// VersionMinor, Flags and Reserved are parsed and stored here but not
// interpreted; they are not carried into the decoded Manifest, and
// Summarize does not report them.
type envelope struct {
	VersionMajor uint8
	VersionMinor uint8
	Flags        uint16
	BodyOffset   uint32
	BodyLen      uint32
	ManifestID   rbyte.ManifestID
	BodyRawLen   uint32
	Reserved     [4]byte
}

const envelopeSize = 32

func parseEnvelope(r *rbyte.Reader) (envelope, error) {
	var e envelope
	if r.Len() < envelopeSize {
		return e, fmt.Errorf("manifest: file too small for envelope (%d bytes): %w", r.Len(), ErrMalformed)
	}
	magic, err := r.ReadU32()
	if err != nil {
		return e, err
	}
	if magic != headerMagic {
		return e, fmt.Errorf("manifest: magic %#x: %w", magic, ErrBadMagic)
	}
	if e.VersionMajor, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.VersionMajor != 2 {
		return e, fmt.Errorf("manifest: version %d: %w", e.VersionMajor, ErrUnsupportedVersion)
	}
	if e.VersionMinor, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Flags, err = r.ReadU16(); err != nil {
		return e, err
	}
	if e.BodyOffset, err = r.ReadU32(); err != nil {
		return e, err
	}
	if e.BodyLen, err = r.ReadU32(); err != nil {
		return e, err
	}
	var manifestID uint64
	if manifestID, err = r.ReadU64(); err != nil {
		return e, err
	}
	e.ManifestID = rbyte.ManifestID(manifestID)
	if e.BodyRawLen, err = r.ReadU32(); err != nil {
		return e, err
	}
	reserved, err := r.ReadBytes(4)
	if err != nil {
		return e, err
	}
	copy(e.Reserved[:], reserved)

	if e.BodyLen < 4 || e.BodyRawLen < 4 {
		return e, fmt.Errorf("manifest: degenerate body length: %w", ErrMalformed)
	}
	if int(e.BodyOffset) > r.Len() || int(e.BodyLen) > r.Len()-int(e.BodyOffset) {
		return e, fmt.Errorf("manifest: body [%d,+%d) exceeds file size %d: %w", e.BodyOffset, e.BodyLen, r.Len(), ErrMalformed)
	}
	return e, nil
}

// decompressBody inflates the zstd-framed body to its known raw size.
func decompressBody(compressed []byte, rawLen uint32) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: init zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("manifest: decompress body: %w", err)
	}
	if uint32(len(out)) != rawLen {
		return nil, fmt.Errorf("manifest: decompressed body is %d bytes, header promised %d: %w", len(out), rawLen, ErrMalformed)
	}
	return out, nil
}

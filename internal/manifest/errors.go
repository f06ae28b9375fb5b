package manifest

import "errors"

// ErrMalformed is wrapped by every bounds or encoding violation found while
// walking the manifest body's table-of-tables. A single sentinel lets
// callers use errors.Is without caring which field tripped it.
var ErrMalformed = errors.New("manifest: malformed body")

// ErrBadMagic is returned when the envelope's magic number isn't "RMAN".
var ErrBadMagic = errors.New("manifest: bad magic")

// ErrUnsupportedVersion is returned for any major version other than 2.
var ErrUnsupportedVersion = errors.New("manifest: unsupported version")

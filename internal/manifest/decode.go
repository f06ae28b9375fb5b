package manifest

import (
	"fmt"
	"regexp"

	"github.com/project-rman/rman/internal/rbyte"
)

// Root table field indices, fixed by the wire format.
const (
	rootBundles = 0
	rootLangs   = 1
	rootFiles   = 2
	rootDirs    = 3
	// rootKeys = 4 — present on the wire, never read; nothing in this
	// codec consumes encryption keys.
	rootParams = 5
)

// Bundle chunk-descriptor field indices.
const (
	chunkFieldID               = 0
	chunkFieldCompressedSize   = 1
	chunkFieldUncompressedSize = 2
)

// Bundle table field indices.
const (
	bundleFieldID     = 0
	bundleFieldChunks = 1
)

// Language table field indices.
const (
	langFieldID   = 0
	langFieldName = 1
)

// Directory table field indices.
const (
	dirFieldID     = 0
	dirFieldParent = 1
	dirFieldName   = 2
)

// Chunking-parameters table field indices.
const (
	paramsFieldUnk0            = 0
	paramsFieldHashType        = 1
	paramsFieldUnk2            = 2
	paramsFieldUnk3            = 3
	paramsFieldMaxUncompressed = 4
)

// File table field indices.
const (
	fileFieldID          = 0
	fileFieldDirID       = 1
	fileFieldSize        = 2
	fileFieldName        = 3
	fileFieldLocaleFlags = 4
	// fileFieldUnk5, fileFieldUnk6 = 5, 6 — uninterpreted.
	fileFieldChunkIDs = 7
	// fileFieldUnk8 = 8 — app-bundle membership flag, uninterpreted.
	fileFieldLink = 9
	// fileFieldUnk10 = 10 — uninterpreted.
	fileFieldParamsIndex = 11
	fileFieldPermissions = 12
)

var langNamePattern = regexp.MustCompile(`^[\w.\-]+$`)

// Decode parses a complete .manifest file: the fixed envelope, the
// zstd-compressed body, and every table the body references.
func Decode(data []byte) (*Manifest, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("manifest: %d bytes is too small to be a manifest: %w", len(data), ErrMalformed)
	}
	r := rbyte.NewReader(data)
	env, err := parseEnvelope(r)
	if err != nil {
		return nil, err
	}
	compressed, err := r.BytesAt(int(env.BodyOffset), int(env.BodyLen))
	if err != nil {
		return nil, fmt.Errorf("manifest: read compressed body: %w", err)
	}
	body, err := decompressBody(compressed, env.BodyRawLen)
	if err != nil {
		return nil, err
	}

	root := offset{buf: body, cur: 0, end: int32(len(body))}
	rootTable, err := root.asTable()
	if err != nil {
		return nil, fmt.Errorf("manifest: root table: %w", err)
	}

	d := &decoder{}

	langField, err := rootTable.field(rootLangs)
	if err != nil {
		return nil, err
	}
	langTables, err := langField.asTableSlice()
	if err != nil {
		return nil, fmt.Errorf("manifest: languages: %w", err)
	}
	if err := d.parseLangs(langTables); err != nil {
		return nil, err
	}

	dirField, err := rootTable.field(rootDirs)
	if err != nil {
		return nil, err
	}
	dirTables, err := dirField.asTableSlice()
	if err != nil {
		return nil, fmt.Errorf("manifest: directories: %w", err)
	}
	if err := d.parseDirs(dirTables); err != nil {
		return nil, err
	}

	paramsField, err := rootTable.field(rootParams)
	if err != nil {
		return nil, err
	}
	paramsTables, err := paramsField.asTableSlice()
	if err != nil {
		return nil, fmt.Errorf("manifest: chunking params: %w", err)
	}
	if err := d.parseParams(paramsTables); err != nil {
		return nil, err
	}

	bundleField, err := rootTable.field(rootBundles)
	if err != nil {
		return nil, err
	}
	bundleTables, err := bundleField.asTableSlice()
	if err != nil {
		return nil, fmt.Errorf("manifest: bundles: %w", err)
	}
	bundles, err := d.parseBundles(bundleTables)
	if err != nil {
		return nil, err
	}

	fileField, err := rootTable.field(rootFiles)
	if err != nil {
		return nil, err
	}
	fileTables, err := fileField.asTableSlice()
	if err != nil {
		return nil, fmt.Errorf("manifest: files: %w", err)
	}
	files, err := d.parseFiles(fileTables)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		ManifestID: env.ManifestID,
		Files:      files,
		Bundles:    bundles,
	}, nil
}

// decoder accumulates the cross-referenced lookup tables the body's
// sections build on each other: files reference directories, directories
// reference their parent, files reference chunking params by index, and
// chunk IDs referenced from a file are resolved against the bundle each
// chunk actually lives in.
type decoder struct {
	langNames   map[uint8]string
	dirNames    map[uint64]string
	dirParents  map[uint64]uint64
	params      map[int]ChunkingParams
	chunkLookup map[rbyte.ChunkID]ChunkSrc
}

func (d *decoder) parseLangs(tables []table) error {
	d.langNames = make(map[uint8]string, len(tables))
	for _, t := range tables {
		idField, err := t.field(langFieldID)
		if err != nil {
			return err
		}
		id, err := idField.asU8()
		if err != nil {
			return err
		}
		nameField, err := t.field(langFieldName)
		if err != nil {
			return err
		}
		name, err := nameField.asString()
		if err != nil {
			return err
		}
		if !langNamePattern.MatchString(name) {
			return fmt.Errorf("manifest: language name %q: %w", name, ErrMalformed)
		}
		d.langNames[id] = name
	}
	return nil
}

func (d *decoder) parseDirs(tables []table) error {
	d.dirNames = make(map[uint64]string, len(tables))
	d.dirParents = make(map[uint64]uint64, len(tables))
	for _, t := range tables {
		idField, err := t.field(dirFieldID)
		if err != nil {
			return err
		}
		id, err := idField.asU64()
		if err != nil {
			return err
		}
		parentField, err := t.field(dirFieldParent)
		if err != nil {
			return err
		}
		parent, err := parentField.asU64()
		if err != nil {
			return err
		}
		nameField, err := t.field(dirFieldName)
		if err != nil {
			return err
		}
		name, err := nameField.asString()
		if err != nil {
			return err
		}
		if name == ".." || name == "." {
			return fmt.Errorf("manifest: directory name %q: %w", name, ErrMalformed)
		}
		if name != "" && name[len(name)-1] != '/' {
			name += "/"
		}
		d.dirNames[id] = name
		d.dirParents[id] = parent
	}
	return nil
}

func (d *decoder) parseParams(tables []table) error {
	d.params = make(map[int]ChunkingParams, len(tables))
	for id, t := range tables {
		unk0Field, err := t.field(paramsFieldUnk0)
		if err != nil {
			return err
		}
		unk0, err := unk0Field.asU16()
		if err != nil {
			return err
		}
		hashField, err := t.field(paramsFieldHashType)
		if err != nil {
			return err
		}
		hashRaw, err := hashField.asU8()
		if err != nil {
			return err
		}
		hashType := rbyte.HashType(hashRaw)
		unk2Field, err := t.field(paramsFieldUnk2)
		if err != nil {
			return err
		}
		unk2, err := unk2Field.asU8()
		if err != nil {
			return err
		}
		unk3Field, err := t.field(paramsFieldUnk3)
		if err != nil {
			return err
		}
		unk3, err := unk3Field.asU32()
		if err != nil {
			return err
		}
		maxField, err := t.field(paramsFieldMaxUncompressed)
		if err != nil {
			return err
		}
		maxUncompressed, err := maxField.asU32()
		if err != nil {
			return err
		}
		if hashType == rbyte.HashNone || hashType > rbyte.HashRitoHKDF {
			return fmt.Errorf("manifest: chunking params %d: hash type %d: %w", id, hashRaw, ErrMalformed)
		}
		d.params[id] = ChunkingParams{
			Unk0:            unk0,
			HashType:        hashType,
			Unk2:            unk2,
			Unk3:            unk3,
			MaxUncompressed: maxUncompressed,
		}
	}
	return nil
}

// chunkLimit is the largest uncompressed size a chunk may declare.
const chunkLimit = 16*1024*1024 - 1

func (d *decoder) parseBundles(tables []table) ([]Bundle, error) {
	bundles := make([]Bundle, 0, len(tables))
	d.chunkLookup = make(map[rbyte.ChunkID]ChunkSrc)
	for _, bt := range tables {
		idField, err := bt.field(bundleFieldID)
		if err != nil {
			return nil, err
		}
		bundleIDRaw, err := idField.asU64()
		if err != nil {
			return nil, err
		}
		bundleID := rbyte.BundleID(bundleIDRaw)
		if bundleID.None() {
			return nil, fmt.Errorf("manifest: bundle with zero id: %w", ErrMalformed)
		}

		chunksField, err := bt.field(bundleFieldChunks)
		if err != nil {
			return nil, err
		}
		chunkTables, err := chunksField.asTableSlice()
		if err != nil {
			return nil, err
		}

		bundle := Bundle{BundleID: bundleID, Chunks: make([]ChunkDescriptor, 0, len(chunkTables))}
		var compressedOffset uint64
		for _, ct := range chunkTables {
			chunkIDField, err := ct.field(chunkFieldID)
			if err != nil {
				return nil, err
			}
			chunkIDRaw, err := chunkIDField.asU64()
			if err != nil {
				return nil, err
			}
			chunkID := rbyte.ChunkID(chunkIDRaw)
			if chunkID.None() {
				return nil, fmt.Errorf("manifest: chunk with zero id in bundle %s: %w", bundleID, ErrMalformed)
			}
			uncompressedField, err := ct.field(chunkFieldUncompressedSize)
			if err != nil {
				return nil, err
			}
			uncompressedSize, err := uncompressedField.asU32()
			if err != nil {
				return nil, err
			}
			compressedField, err := ct.field(chunkFieldCompressedSize)
			if err != nil {
				return nil, err
			}
			compressedSize, err := compressedField.asU32()
			if err != nil {
				return nil, err
			}
			if uncompressedSize > chunkLimit {
				return nil, fmt.Errorf("manifest: chunk %s uncompressed size %d exceeds limit: %w", chunkID, uncompressedSize, ErrMalformed)
			}

			desc := ChunkDescriptor{ChunkID: chunkID, CompressedSize: compressedSize, UncompressedSize: uncompressedSize}
			bundle.Chunks = append(bundle.Chunks, desc)
			d.chunkLookup[chunkID] = ChunkSrc{
				ChunkDescriptor:  desc,
				BundleID:         bundleID,
				CompressedOffset: compressedOffset,
			}
			compressedOffset += uint64(compressedSize)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

// resolvePath walks a file's directory chain to its parent, concatenating
// names as it goes. The original implementation trusts the manifest
// enough to loop on dirId unconditionally; a cyclic parent chain (whether
// from corruption or a hostile manifest) would spin it forever, so this
// port tracks visited directory IDs and fails instead.
func (d *decoder) resolvePath(name string, dirID uint64) (string, error) {
	path := name
	visited := make(map[uint64]struct{})
	for dirID != 0 {
		if _, seen := visited[dirID]; seen {
			return "", fmt.Errorf("manifest: directory %d is part of a parent cycle: %w", dirID, ErrMalformed)
		}
		visited[dirID] = struct{}{}
		if len(path) >= 256 {
			return "", fmt.Errorf("manifest: path %q exceeds 256 bytes: %w", path, ErrMalformed)
		}
		dirName, ok := d.dirNames[dirID]
		if !ok {
			return "", fmt.Errorf("manifest: unknown directory id %d: %w", dirID, ErrMalformed)
		}
		if dirName != "" {
			path = dirName + path
		}
		parent, ok := d.dirParents[dirID]
		if !ok {
			return "", fmt.Errorf("manifest: unknown directory id %d: %w", dirID, ErrMalformed)
		}
		dirID = parent
	}
	return path, nil
}

func (d *decoder) resolveLangs(localeFlags uint64) (string, error) {
	langs := ""
	for i := 0; i != 32; i++ {
		if localeFlags&(1<<uint(i)) == 0 {
			continue
		}
		name, ok := d.langNames[uint8(i+1)]
		if !ok {
			return "", fmt.Errorf("manifest: locale flag bit %d has no language: %w", i, ErrMalformed)
		}
		if langs != "" {
			langs += ";"
		}
		langs += name
	}
	if langs == "" {
		langs = "none"
	}
	return langs, nil
}

func (d *decoder) parseFiles(tables []table) ([]File, error) {
	files := make([]File, 0, len(tables))
	for _, ft := range tables {
		idField, err := ft.field(fileFieldID)
		if err != nil {
			return nil, err
		}
		fileIDRaw, err := idField.asU64()
		if err != nil {
			return nil, err
		}
		fileID := rbyte.FileID(fileIDRaw)
		if fileID.None() {
			return nil, fmt.Errorf("manifest: file with zero id: %w", ErrMalformed)
		}

		dirIDField, err := ft.field(fileFieldDirID)
		if err != nil {
			return nil, err
		}
		dirID, err := dirIDField.asU64()
		if err != nil {
			return nil, err
		}

		sizeField, err := ft.field(fileFieldSize)
		if err != nil {
			return nil, err
		}
		size, err := sizeField.asU32()
		if err != nil {
			return nil, err
		}

		nameField, err := ft.field(fileFieldName)
		if err != nil {
			return nil, err
		}
		name, err := nameField.asString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("manifest: file %s has no name: %w", fileID, ErrMalformed)
		}

		localeField, err := ft.field(fileFieldLocaleFlags)
		if err != nil {
			return nil, err
		}
		localeFlags, err := localeField.asU64()
		if err != nil {
			return nil, err
		}

		chunkIDsField, err := ft.field(fileFieldChunkIDs)
		if err != nil {
			return nil, err
		}
		chunkIDRaws, err := chunkIDsField.asU64Vector()
		if err != nil {
			return nil, err
		}

		linkField, err := ft.field(fileFieldLink)
		if err != nil {
			return nil, err
		}
		link, err := linkField.asString()
		if err != nil {
			return nil, err
		}

		paramsIndexField, err := ft.field(fileFieldParamsIndex)
		if err != nil {
			return nil, err
		}
		paramsIndex, err := paramsIndexField.asU8()
		if err != nil {
			return nil, err
		}
		permsField, err := ft.field(fileFieldPermissions)
		if err != nil {
			return nil, err
		}
		permissions, err := permsField.asU8()
		if err != nil {
			return nil, err
		}

		params, ok := d.params[int(paramsIndex)]
		if !ok {
			return nil, fmt.Errorf("manifest: file %s: unknown chunking params index %d: %w", fileID, paramsIndex, ErrMalformed)
		}

		path, err := d.resolvePath(name, dirID)
		if err != nil {
			return nil, fmt.Errorf("manifest: file %s: %w", fileID, err)
		}
		langs, err := d.resolveLangs(localeFlags)
		if err != nil {
			return nil, fmt.Errorf("manifest: file %s: %w", fileID, err)
		}

		chunks := make([]ChunkDst, 0, len(chunkIDRaws))
		var uncompressedOffset uint64
		for _, raw := range chunkIDRaws {
			chunkID := rbyte.ChunkID(raw)
			src, ok := d.chunkLookup[chunkID]
			if !ok {
				return nil, fmt.Errorf("manifest: file %s: chunk %s not found in any bundle: %w", fileID, chunkID, ErrMalformed)
			}
			dst := ChunkDst{
				ChunkSrc:           src,
				HashType:           params.HashType,
				UncompressedOffset: uncompressedOffset,
			}
			chunks = append(chunks, dst)
			uncompressedOffset += uint64(dst.UncompressedSize)
			if uncompressedOffset > uint64(size) {
				return nil, fmt.Errorf("manifest: file %s: chunks overrun declared size %d: %w", fileID, size, ErrMalformed)
			}
		}

		files = append(files, File{
			FileID:      fileID,
			Permissions: permissions,
			Size:        uint64(size),
			Path:        path,
			Link:        link,
			Langs:       langs,
			Chunks:      chunks,
		})
	}
	return files, nil
}

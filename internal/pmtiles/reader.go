package pmtiles

import (
	"fmt"
	"io"
	"os"

	"github.com/tysonmote/gommap"
)

// Reader answers random-access lookups against an archive opened from
// disk. It memory-maps the file via gommap and falls back to ordinary
// heap reads when mapping is unavailable (e.g. the source is a pipe,
// or the platform refuses mmap) so callers never need to special-case
// the backing store.
type Reader struct {
	Header Header

	file *os.File
	mmap gommap.MMap // nil when running on the heap-read fallback
	heap []byte

	rootEntries []Entry
}

// Open maps or loads the archive at path and parses its header and
// root directory.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: opening %s: %w", path, err)
	}

	r := &Reader{file: f}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmtiles: stat %s: %w", path, err)
	}

	if m, mapErr := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED); mapErr == nil {
		r.mmap = m
	} else {
		buf := make([]byte, info.Size())
		if _, err := io.ReadFull(f, buf); err != nil {
			f.Close()
			return nil, fmt.Errorf("pmtiles: heap-reading %s: %w", path, err)
		}
		r.heap = buf
	}

	hdr, err := DeserializeHeader(r.bytes())
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Header = hdr

	root, err := DeserializeEntries(r.slice(hdr.RootDirOffset, hdr.RootDirBytes))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("pmtiles: root directory: %w", err)
	}
	r.rootEntries = root

	return r, nil
}

func (r *Reader) bytes() []byte {
	if r.mmap != nil {
		return r.mmap
	}
	return r.heap
}

func (r *Reader) slice(offset, length uint64) []byte {
	b := r.bytes()
	if offset+length > uint64(len(b)) {
		return nil
	}
	return b[offset : offset+length]
}

// Close releases the mapping (or heap buffer) and the underlying file.
func (r *Reader) Close() error {
	if r.mmap != nil {
		if err := r.mmap.UnsafeUnmap(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}

// Lookup returns the tile payload addressed by id, or ok==false if the
// archive has no tile at that id.
func (r *Reader) Lookup(id uint64) (data []byte, ok bool, err error) {
	entry, found := findTileEntry(r.rootEntries, id)
	if !found {
		return nil, false, nil
	}

	if entry.isLeafPointer() {
		leafBytes := r.slice(r.Header.LeafDirsOffset+entry.Offset, uint64(entry.Length))
		if leafBytes == nil {
			return nil, false, fmt.Errorf("pmtiles: leaf directory out of bounds for tile %d", id)
		}
		leaf, err := DeserializeEntries(leafBytes)
		if err != nil {
			return nil, false, fmt.Errorf("pmtiles: leaf directory: %w", err)
		}
		leafEntry, found := findTileEntry(leaf, id)
		if !found {
			return nil, false, nil
		}
		entry = leafEntry
	}

	tile := r.slice(r.Header.TileDataOffset+entry.Offset, uint64(entry.Length))
	if tile == nil {
		return nil, false, fmt.Errorf("pmtiles: tile data out of bounds for tile %d", id)
	}
	return tile, true, nil
}

// Metadata returns the archive's trailing metadata JSON blob verbatim.
func (r *Reader) Metadata() []byte {
	return r.slice(r.Header.MetadataOffset, r.Header.MetadataBytes)
}

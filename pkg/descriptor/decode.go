package descriptor

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/carved4/go-pluginmeta/pkg/errors"
)

// Translator maps addresses recorded in the image back to file offsets.
// *peimage.Image implements it.
type Translator interface {
	VAToRVA(va uint64) (uint32, error)
	RVAToFileOffset(rva uint32) (int, error)
}

// Decode reads the record at offset in data. The version tag is checked
// before any other byte of the record is read: nothing past the tag has a
// known meaning for an unsupported version.
func Decode(data []byte, offset int, tr Translator) (Descriptor, error) {
	var d Descriptor
	if offset < 0 || offset > len(data) || len(data)-offset < TagSize {
		return d, errors.Newf(errors.ErrDataCorrupt, "record at 0x%x is truncated before its version tag", offset)
	}

	le := binary.LittleEndian
	tag := le.Uint64(data[offset:])
	if tag < 1 || tag > CurrentVersion {
		return d, errors.VersionUnsupported(tag)
	}

	if len(data)-offset < RecordSize {
		return d, errors.Newf(errors.ErrDataCorrupt, "record at 0x%x needs %d bytes, %d available", offset, RecordSize, len(data)-offset)
	}
	rec := data[offset : offset+RecordSize]

	d.Tag = tag
	fields := []struct {
		name string
		dst  *BoundString
	}{
		{"name", &d.Name},
		{"author", &d.Author},
		{"description", &d.Description},
	}
	for i, f := range fields {
		va := le.Uint64(rec[TagSize+i*PtrSize:])
		s, err := bind(data, va, tr)
		if err != nil {
			return Descriptor{}, errors.Wrap(errors.ErrDataCorrupt, err, f.name)
		}
		*f.dst = s
	}

	v := rec[TagSize+3*PtrSize:]
	d.Version = Version{
		Major: le.Uint16(v[0:]),
		Minor: le.Uint16(v[2:]),
		Patch: le.Uint16(v[4:]),
	}
	return d, nil
}

// bind rebases a load-time VA onto data and validates the string there.
func bind(data []byte, va uint64, tr Translator) (BoundString, error) {
	rva, err := tr.VAToRVA(va)
	if err != nil {
		return BoundString{}, err
	}
	off, err := tr.RVAToFileOffset(rva)
	if err != nil {
		return BoundString{}, err
	}
	if off < 0 || off >= len(data) {
		return BoundString{}, errors.Newf(errors.ErrDataCorrupt, "string at 0x%x starts at end of image", off)
	}

	n := bytes.IndexByte(data[off:], 0)
	if n < 0 {
		return BoundString{}, errors.Newf(errors.ErrDataCorrupt, "string at 0x%x is not terminated", off)
	}
	if !utf8.Valid(data[off : off+n]) {
		return BoundString{}, errors.Newf(errors.ErrDataCorrupt, "string at 0x%x is not valid UTF-8", off)
	}
	return BoundString{Offset: off, Len: n}, nil
}

package peimage

import (
	"encoding/binary"

	"github.com/carved4/go-pluginmeta/pkg/errors"
)

const (
	magicPE32     = 0x10b
	magicPE32Plus = 0x20b
)

// probe checks the DOS and NT signatures and the optional header magic, and
// returns the offset of the PE signature.
func probe(data []byte) (uint32, error) {
	if len(data) < 64 || data[0] != 'M' || data[1] != 'Z' {
		return 0, errors.New(errors.ErrFormat, "missing MZ signature")
	}

	peOff := binary.LittleEndian.Uint32(data[0x3c:])
	// Signature (4) + COFF header (20) + optional header magic (2)
	if uint64(peOff)+26 > uint64(len(data)) {
		return 0, errors.Newf(errors.ErrFormat, "e_lfanew 0x%x out of range", peOff)
	}
	nt := data[peOff:]
	if nt[0] != 'P' || nt[1] != 'E' || nt[2] != 0 || nt[3] != 0 {
		return 0, errors.New(errors.ErrFormat, "missing PE signature")
	}

	// Optional header starts after 4-byte Signature and 20-byte COFF header
	magic := binary.LittleEndian.Uint16(nt[24:])
	switch magic {
	case magicPE32Plus:
		return peOff, nil
	case magicPE32:
		return 0, errors.New(errors.ErrFormat, "PE32 images are not supported")
	}
	return 0, errors.Newf(errors.ErrFormat, "unknown optional header magic 0x%x", magic)
}

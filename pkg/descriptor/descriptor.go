// Package descriptor decodes the fixed-layout metadata record a module
// publishes under a well-known export.
//
// On-disk layout (little-endian, packed, 64-bit images only):
//
//	0   version tag   u64
//	8   name          VA (u64)
//	16  author        VA (u64)
//	24  description   VA (u64)
//	32  major         u16
//	34  minor         u16
//	36  patch         u16
//
// Each VA points at a NUL-terminated UTF-8 string inside the same image.
package descriptor

import (
	"fmt"
	"unsafe"
)

const (
	// CurrentVersion is the newest record layout this package understands.
	CurrentVersion uint64 = 1

	// SymbolName is the export a conforming module publishes its record under.
	SymbolName = "PLUGIN_DATA"

	TagSize    = 8
	PtrSize    = 8
	RecordSize = TagSize + 3*PtrSize + 3*2
)

type Version struct {
	Major uint16 `json:"major" yaml:"major"`
	Minor uint16 `json:"minor" yaml:"minor"`
	Patch uint16 `json:"patch" yaml:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// BoundString is a validated span of UTF-8 bytes inside the image buffer.
// The byte at Offset+Len is the NUL terminator and is not part of the value.
type BoundString struct {
	Offset int
	Len    int
}

// Bytes returns the span within buf without copying.
func (s BoundString) Bytes(buf []byte) []byte {
	return buf[s.Offset : s.Offset+s.Len : s.Offset+s.Len]
}

// String copies the span out of buf.
func (s BoundString) String(buf []byte) string {
	return string(s.Bytes(buf))
}

// View returns a string sharing memory with buf. It is only valid while buf
// is.
func (s BoundString) View(buf []byte) string {
	if s.Len == 0 {
		return ""
	}
	return unsafe.String(&buf[s.Offset], s.Len)
}

// Descriptor is a decoded record. Its strings are offsets into the buffer it
// was decoded from and mean nothing without it.
type Descriptor struct {
	Tag         uint64
	Name        BoundString
	Author      BoundString
	Description BoundString
	Version     Version
}

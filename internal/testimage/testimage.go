// Package testimage assembles small PE32+ DLL images in memory so tests can
// exercise the reader and decoder without shipping binaries.
//
// Layout: headers | .text | .edata | .rdata. The .rdata section sits last in
// the file so a test can place bytes right at the end of the image.
package testimage

import (
	"encoding/binary"
	"sort"
)

const (
	DefaultImageBase = 0x180000000

	MagicPE32     = 0x10b
	MagicPE32Plus = 0x20b

	// RecordSize is the packed size of a version 1 metadata record.
	RecordSize = 38

	peOffset         = 0x80
	optHeaderSize    = 240
	sectionHdrSize   = 40
	headerSize       = 0x400
	fileAlignment    = 0x200
	sectionAlignment = 0x1000

	textRVA  = 0x1000
	textSize = 0x200
	rdataRVA = 0x2000
)

// Record mirrors the on-disk metadata layout. Name, Author and Description
// are virtual addresses as they would appear at the preferred image base.
type Record struct {
	Tag         uint64
	Name        uint64
	Author      uint64
	Description uint64
	Major       uint16
	Minor       uint16
	Patch       uint16
}

func (r Record) Bytes() []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(b[0:], r.Tag)
	binary.LittleEndian.PutUint64(b[8:], r.Name)
	binary.LittleEndian.PutUint64(b[16:], r.Author)
	binary.LittleEndian.PutUint64(b[24:], r.Description)
	binary.LittleEndian.PutUint16(b[32:], r.Major)
	binary.LittleEndian.PutUint16(b[34:], r.Minor)
	binary.LittleEndian.PutUint16(b[36:], r.Patch)
	return b
}

type export struct {
	name string
	rva  uint32
}

type Builder struct {
	ImageBase uint64
	Magic     uint16
	// NoPad leaves .rdata unpadded so the file ends on its last byte.
	NoPad bool
	// OmitExportDirectory zeroes the export data-directory entry.
	OmitExportDirectory bool

	rdata   []byte
	exports []export
}

func New() *Builder {
	return &Builder{ImageBase: DefaultImageBase, Magic: MagicPE32Plus}
}

// Plugin returns a builder holding a complete, conforming module that
// exports PLUGIN_DATA.
func Plugin(tag uint64, name, author, description string, major, minor, patch uint16) *Builder {
	b := New()
	r := Record{
		Tag:         tag,
		Name:        b.AddString(name),
		Author:      b.AddString(author),
		Description: b.AddString(description),
		Major:       major,
		Minor:       minor,
		Patch:       patch,
	}
	b.Export("PLUGIN_DATA", b.AddRecord(r))
	b.Export("DllMain", textRVA)
	return b
}

// AddBytes appends p to .rdata and returns its RVA.
func (b *Builder) AddBytes(p []byte) uint32 {
	rva := rdataRVA + uint32(len(b.rdata))
	b.rdata = append(b.rdata, p...)
	return rva
}

// AddString appends s and a terminating NUL and returns its VA.
func (b *Builder) AddString(s string) uint64 {
	rva := b.AddBytes(append([]byte(s), 0))
	return b.VA(rva)
}

func (b *Builder) AddRecord(r Record) uint32 {
	return b.AddBytes(r.Bytes())
}

func (b *Builder) Export(name string, rva uint32) {
	b.exports = append(b.exports, export{name: name, rva: rva})
}

func (b *Builder) VA(rva uint32) uint64 {
	return b.ImageBase + uint64(rva)
}

// RDataOffset is the file offset of the first .rdata byte in the built image.
func (b *Builder) RDataOffset() int {
	return headerSize + textSize + alignUp(len(b.edata(0)), fileAlignment)
}

func (b *Builder) Build() []byte {
	rdataVSize := max(len(b.rdata), 1)
	edataRVA := uint32(rdataRVA + alignUp(rdataVSize, sectionAlignment))
	edata := b.edata(edataRVA)

	edataOff := headerSize + textSize
	edataRaw := alignUp(len(edata), fileAlignment)
	rdataOff := edataOff + edataRaw
	rdataRaw := len(b.rdata)
	if !b.NoPad {
		rdataRaw = alignUp(rdataRaw, fileAlignment)
	}
	sizeOfImage := uint32(int(edataRVA) + alignUp(len(edata), sectionAlignment))

	out := make([]byte, rdataOff+rdataRaw)
	le := binary.LittleEndian

	// DOS header
	out[0], out[1] = 'M', 'Z'
	le.PutUint32(out[0x3c:], peOffset)

	// PE signature + COFF header
	copy(out[peOffset:], "PE\x00\x00")
	coff := out[peOffset+4:]
	le.PutUint16(coff[0:], 0x8664)
	le.PutUint16(coff[2:], 3)
	le.PutUint16(coff[16:], optHeaderSize)
	le.PutUint16(coff[18:], 0x2022)

	opt := out[peOffset+24:]
	le.PutUint16(opt[0:], b.Magic)
	le.PutUint32(opt[16:], textRVA)
	le.PutUint32(opt[20:], textRVA)
	le.PutUint64(opt[24:], b.ImageBase)
	le.PutUint32(opt[32:], sectionAlignment)
	le.PutUint32(opt[36:], fileAlignment)
	le.PutUint16(opt[40:], 6)
	le.PutUint16(opt[48:], 6)
	le.PutUint32(opt[56:], sizeOfImage)
	le.PutUint32(opt[60:], headerSize)
	le.PutUint16(opt[68:], 2)
	le.PutUint32(opt[108:], 16)
	if !b.OmitExportDirectory {
		le.PutUint32(opt[112:], edataRVA)
		le.PutUint32(opt[116:], uint32(len(edata)))
	}

	sh := out[peOffset+24+optHeaderSize:]
	putSection(sh[0*sectionHdrSize:], ".text", textSize, textRVA, textSize, headerSize, 0x60000020)
	putSection(sh[1*sectionHdrSize:], ".rdata", rdataVSize, rdataRVA, rdataRaw, rdataOff, 0x40000040)
	putSection(sh[2*sectionHdrSize:], ".edata", len(edata), edataRVA, edataRaw, edataOff, 0x40000040)

	out[headerSize] = 0xc3
	copy(out[edataOff:], edata)
	copy(out[rdataOff:], b.rdata)
	return out
}

// edata lays out the export directory, its three tables and the name
// strings for a section starting at base.
func (b *Builder) edata(base uint32) []byte {
	exports := append([]export(nil), b.exports...)
	sort.Slice(exports, func(i, j int) bool { return exports[i].name < exports[j].name })

	n := len(exports)
	funcs := 40
	names := funcs + 4*n
	ords := names + 4*n
	strs := ords + 2*n

	out := make([]byte, strs)
	le := binary.LittleEndian
	dllName := uint32(len(out))
	out = append(out, "plugin.dll\x00"...)

	le.PutUint32(out[12:], base+dllName)
	le.PutUint32(out[16:], 1)
	le.PutUint32(out[20:], uint32(n))
	le.PutUint32(out[24:], uint32(n))
	le.PutUint32(out[28:], base+uint32(funcs))
	le.PutUint32(out[32:], base+uint32(names))
	le.PutUint32(out[36:], base+uint32(ords))

	for i, e := range exports {
		le.PutUint32(out[funcs+4*i:], e.rva)
		le.PutUint16(out[ords+2*i:], uint16(i))
		le.PutUint32(out[names+4*i:], base+uint32(len(out)))
		out = append(out, e.name...)
		out = append(out, 0)
	}
	return out
}

func putSection(b []byte, name string, vsize int, rva uint32, rawSize, rawOff int, flags uint32) {
	le := binary.LittleEndian
	copy(b[0:8], name)
	le.PutUint32(b[8:], uint32(vsize))
	le.PutUint32(b[12:], rva)
	le.PutUint32(b[16:], uint32(rawSize))
	le.PutUint32(b[20:], uint32(rawOff))
	le.PutUint32(b[36:], flags)
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

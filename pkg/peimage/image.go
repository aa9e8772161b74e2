// Package peimage reads the handful of PE32+ structures needed to find an
// exported symbol and map addresses back to file offsets. It never maps or
// executes the image.
package peimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Binject/debug/pe"

	"github.com/carved4/go-pluginmeta/pkg/errors"
)

// Section is the part of a section header used for address translation.
type Section struct {
	Name             string `json:"name" yaml:"name"`
	VirtualAddress   uint32 `json:"virtual_address" yaml:"virtual_address"`
	VirtualSize      uint32 `json:"virtual_size" yaml:"virtual_size"`
	PointerToRawData uint32 `json:"raw_offset" yaml:"raw_offset"`
	SizeOfRawData    uint32 `json:"raw_size" yaml:"raw_size"`
}

// Image is a parsed view over immutable image bytes. All lookups are pure
// functions of those bytes.
type Image struct {
	data        []byte
	imageBase   uint64
	sizeOfImage uint32
	exportRVA   uint32
	exportSize  uint32
	sections    []Section
}

var (
	sizeofFileHeader       = int64(binary.Size(pe.FileHeader{}))
	sizeofOptionalHeader64 = binary.Size(pe.OptionalHeader64{})
	sizeofSectionHeader    = int64(binary.Size(pe.SectionHeader32{}))
)

// minOptionalHeader64 covers every PE32+ field up to NumberOfRvaAndSizes.
const minOptionalHeader64 = 112

// Parse validates the headers of a PE32+ image. data is borrowed, not copied,
// and must stay unchanged for the life of the Image.
//
// Only the COFF header, the optional header and the section table are
// decoded. Symbol tables, relocations, certificates and CLR metadata are
// never read, so no allocation depends on their size fields.
func Parse(data []byte) (*Image, error) {
	peOff, err := probe(data)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)
	var fh pe.FileHeader
	if err := readAt(r, int64(peOff)+4, &fh); err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "read file header")
	}

	optOff := int64(peOff) + 4 + sizeofFileHeader
	oh, err := readOptionalHeader(data, optOff, fh.SizeOfOptionalHeader)
	if err != nil {
		return nil, err
	}

	sections, err := readSections(r, optOff+int64(fh.SizeOfOptionalHeader), fh.NumberOfSections)
	if err != nil {
		return nil, err
	}

	export := oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
	return &Image{
		data:        data,
		imageBase:   oh.ImageBase,
		sizeOfImage: oh.SizeOfImage,
		exportRVA:   export.VirtualAddress,
		exportSize:  export.Size,
		sections:    sections,
	}, nil
}

func readAt(r *bytes.Reader, off int64, v any) error {
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, v)
}

// readOptionalHeader decodes a PE32+ optional header of the declared size.
// Headers declaring fewer than 16 data directories are zero-extended.
func readOptionalHeader(data []byte, off int64, size uint16) (*pe.OptionalHeader64, error) {
	if size < minOptionalHeader64 {
		return nil, errors.Newf(errors.ErrFormat, "optional header size %d is too small for PE32+", size)
	}
	end := off + int64(size)
	if end > int64(len(data)) {
		return nil, errors.Newf(errors.ErrFormat, "optional header (%d bytes at 0x%x) overruns file", size, off)
	}

	buf := make([]byte, sizeofOptionalHeader64)
	copy(buf, data[off:end])
	var oh pe.OptionalHeader64
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &oh); err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "read optional header")
	}
	for i := int(min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))); i < len(oh.DataDirectory); i++ {
		oh.DataDirectory[i] = pe.DataDirectory{}
	}
	return &oh, nil
}

// readSections decodes the section table. Its full extent is checked against
// the file before anything is allocated.
func readSections(r *bytes.Reader, off int64, count uint16) ([]Section, error) {
	if off+int64(count)*sizeofSectionHeader > r.Size() {
		return nil, errors.Newf(errors.ErrFormat, "section table (%d entries at 0x%x) overruns file", count, off)
	}
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "seek section table")
	}

	sections := make([]Section, 0, count)
	for i := 0; i < int(count); i++ {
		var sh pe.SectionHeader32
		if err := binary.Read(r, binary.LittleEndian, &sh); err != nil {
			return nil, errors.Wrap(errors.ErrFormat, err, "read section header")
		}
		sections = append(sections, Section{
			Name:             sectionName(sh.Name),
			VirtualAddress:   sh.VirtualAddress,
			VirtualSize:      sh.VirtualSize,
			PointerToRawData: sh.PointerToRawData,
			SizeOfRawData:    sh.SizeOfRawData,
		})
	}
	return sections, nil
}

// sectionName returns the inline name. Long "/n" names stay as written since
// the COFF string table is not read.
func sectionName(raw [8]uint8) string {
	name := raw[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func (img *Image) ImageBase() uint64 { return img.imageBase }

func (img *Image) SizeOfImage() uint32 { return img.sizeOfImage }

func (img *Image) Sections() []Section {
	return append([]Section(nil), img.sections...)
}

// Bytes returns the borrowed image bytes.
func (img *Image) Bytes() []byte { return img.data }

// RVAToFileOffset finds the section whose virtual range contains rva and
// rebases rva onto that section's raw data.
func (img *Image) RVAToFileOffset(rva uint32) (int, error) {
	for _, s := range img.sections {
		if rva < s.VirtualAddress || uint64(rva) >= uint64(s.VirtualAddress)+uint64(s.VirtualSize) {
			continue
		}
		off := uint64(rva-s.VirtualAddress) + uint64(s.PointerToRawData)
		if off > uint64(len(img.data)) {
			return 0, errors.Newf(errors.ErrFormat, "rva 0x%x maps past end of file (offset 0x%x)", rva, off)
		}
		return int(off), nil
	}
	return 0, errors.Newf(errors.ErrFormat, "rva 0x%x is not inside any section", rva)
}

// VAToRVA subtracts the preferred image base from va.
func (img *Image) VAToRVA(va uint64) (uint32, error) {
	if va < img.imageBase {
		return 0, errors.Newf(errors.ErrFormat, "va 0x%x is below image base 0x%x", va, img.imageBase)
	}
	rva := va - img.imageBase
	if rva >= uint64(img.sizeOfImage) {
		return 0, errors.Newf(errors.ErrFormat, "va 0x%x is beyond image size 0x%x", va, img.sizeOfImage)
	}
	return uint32(rva), nil
}

func (s Section) String() string {
	return fmt.Sprintf("%-8s va=0x%08x vsize=0x%08x raw=0x%08x rawsize=0x%08x",
		s.Name, s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
}

package peimage

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/carved4/go-pluginmeta/pkg/errors"
)

// Export represents a single named export of the image
type Export struct {
	Name    string `json:"name" yaml:"name"`
	RVA     uint32 `json:"rva" yaml:"rva"`
	Ordinal uint32 `json:"ordinal" yaml:"ordinal"`
	// Forwarded exports point at a "dll.Symbol" string instead of data.
	Forwarded bool `json:"forwarded,omitempty" yaml:"forwarded,omitempty"`
}

// maxExportName bounds export name scans
const maxExportName = 4096

// Exports walks the export directory and returns the named exports sorted by
// name. Every table read is bounds checked against the image bytes.
func (img *Image) Exports() ([]Export, error) {
	if img.exportRVA == 0 {
		return nil, nil
	}

	dirOff, err := img.RVAToFileOffset(img.exportRVA)
	if err != nil {
		return nil, err
	}
	dir, err := img.slice(dirOff, 40)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "export directory")
	}

	// Offsets within IMAGE_EXPORT_DIRECTORY
	// 16: Base (DWORD)
	// 20: NumberOfFunctions (DWORD)
	// 24: NumberOfNames (DWORD)
	// 28: AddressOfFunctions (DWORD)
	// 32: AddressOfNames (DWORD)
	// 36: AddressOfNameOrdinals (DWORD)
	le := binary.LittleEndian
	base := le.Uint32(dir[16:])
	numFuncs := le.Uint32(dir[20:])
	numNames := le.Uint32(dir[24:])
	if numNames == 0 {
		return nil, nil
	}

	funcs, err := img.table(le.Uint32(dir[28:]), numFuncs, 4)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "export address table")
	}
	names, err := img.table(le.Uint32(dir[32:]), numNames, 4)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "export name table")
	}
	ords, err := img.table(le.Uint32(dir[36:]), numNames, 2)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFormat, err, "export ordinal table")
	}

	exports := make([]Export, 0, numNames)
	for i := uint32(0); i < numNames; i++ {
		// Ordinal index is a WORD into AddressOfFunctions table
		ordIndex := uint32(le.Uint16(ords[2*i:]))
		if ordIndex >= numFuncs {
			return nil, errors.Newf(errors.ErrFormat, "export %d has ordinal index %d beyond %d functions", i, ordIndex, numFuncs)
		}
		name, err := img.cstringAt(le.Uint32(names[4*i:]))
		if err != nil {
			return nil, errors.Wrap(errors.ErrFormat, err, "export name")
		}
		rva := le.Uint32(funcs[4*ordIndex:])
		exports = append(exports, Export{
			Name:      name,
			RVA:       rva,
			Ordinal:   base + ordIndex,
			Forwarded: rva >= img.exportRVA && uint64(rva) < uint64(img.exportRVA)+uint64(img.exportSize),
		})
	}

	sort.Slice(exports, func(i, j int) bool {
		return exports[i].Name < exports[j].Name
	})
	return exports, nil
}

// FindExport resolves an exported symbol name to its RVA.
func (img *Image) FindExport(name string) (uint32, error) {
	exports, err := img.Exports()
	if err != nil {
		return 0, err
	}
	i := sort.Search(len(exports), func(i int) bool { return exports[i].Name >= name })
	if i == len(exports) || exports[i].Name != name || exports[i].Forwarded {
		return 0, errors.Newf(errors.ErrSymbolNotFound, "no export named %q", name)
	}
	return exports[i].RVA, nil
}

// HasExport reports whether name resolves to a non-forwarded export.
func (img *Image) HasExport(name string) bool {
	_, err := img.FindExport(name)
	return err == nil
}

func (img *Image) slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(img.data) || n > len(img.data)-off {
		return nil, errors.Newf(errors.ErrFormat, "range [0x%x, +0x%x) outside image", off, n)
	}
	return img.data[off : off+n], nil
}

func (img *Image) table(rva, count uint32, width int) ([]byte, error) {
	off, err := img.RVAToFileOffset(rva)
	if err != nil {
		return nil, err
	}
	n := uint64(count) * uint64(width)
	if n > uint64(len(img.data)) {
		return nil, errors.Newf(errors.ErrFormat, "table of %d entries exceeds image", count)
	}
	return img.slice(off, int(n))
}

func (img *Image) cstringAt(rva uint32) (string, error) {
	off, err := img.RVAToFileOffset(rva)
	if err != nil {
		return "", err
	}
	rest := img.data[off:]
	if len(rest) > maxExportName {
		rest = rest[:maxExportName]
	}
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", errors.Newf(errors.ErrFormat, "unterminated string at rva 0x%x", rva)
	}
	return string(rest[:end]), nil
}

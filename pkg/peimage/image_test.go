package peimage

import (
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-pluginmeta/internal/testimage"
	"github.com/carved4/go-pluginmeta/pkg/errors"
)

func TestParse(t *testing.T) {
	b := testimage.Plugin(1, "Loader", "Cherry", "desc", 0, 1, 0)
	img, err := Parse(b.Build())
	require.NoError(t, err)

	assert.Equal(t, uint64(testimage.DefaultImageBase), img.ImageBase())
	assert.NotZero(t, img.SizeOfImage())

	sections := img.Sections()
	require.Len(t, sections, 3)
	assert.Equal(t, ".text", sections[0].Name)
	assert.Equal(t, ".rdata", sections[1].Name)
	assert.Equal(t, ".edata", sections[2].Name)
}

func TestParseRejects(t *testing.T) {
	valid := testimage.New().Build()

	pe32 := testimage.New()
	pe32.Magic = testimage.MagicPE32

	badLfanew := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badLfanew[0x3c:], uint32(len(valid)))

	badSig := append([]byte(nil), valid...)
	badSig[0x80] = 'X'

	manySections := patch(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[coffOffset+2:], 0xffff) })
	hugeOptional := patch(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[coffOffset+16:], 0xffff) })
	tinyOptional := patch(valid, func(b []byte) { binary.LittleEndian.PutUint16(b[coffOffset+16:], 16) })

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("MZ")},
		{"not mz", append([]byte("ZM"), valid[2:]...)},
		{"lfanew out of range", badLfanew},
		{"bad pe signature", badSig},
		{"pe32", pe32.Build()},
		{"garbage", make([]byte, 4096)},
		{"section count overruns file", manySections},
		{"optional header overruns file", hugeOptional},
		{"optional header too small", tinyOptional},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrFormat), "got %v", err)
		})
	}
}

func TestRVAToFileOffset(t *testing.T) {
	b := testimage.New()
	rva := b.AddBytes([]byte("abc"))
	data := b.Build()

	img, err := Parse(data)
	require.NoError(t, err)

	off, err := img.RVAToFileOffset(rva)
	require.NoError(t, err)
	assert.Equal(t, b.RDataOffset(), off)
	assert.Equal(t, []byte("abc"), data[off:off+3])

	// .text: rva 0x1000 is raw 0x400
	off, err = img.RVAToFileOffset(0x1000)
	require.NoError(t, err)
	assert.Equal(t, 0x400, off)

	_, err = img.RVAToFileOffset(0x10)
	assert.True(t, errors.IsCode(err, errors.ErrFormat))

	_, err = img.RVAToFileOffset(0xfffffff0)
	assert.True(t, errors.IsCode(err, errors.ErrFormat))
}

func TestRVAToFileOffsetPastEnd(t *testing.T) {
	b := testimage.New()
	b.NoPad = true
	b.AddBytes([]byte("abcd"))
	data := b.Build()

	img, err := Parse(data[:len(data)-2])
	require.NoError(t, err)

	// last byte of .rdata now lies beyond the truncated buffer
	_, err = img.RVAToFileOffset(0x2003)
	assert.True(t, errors.IsCode(err, errors.ErrFormat))

	off, err := img.RVAToFileOffset(0x2002)
	require.NoError(t, err)
	assert.Equal(t, len(data)-2, off)
}

func TestVAToRVA(t *testing.T) {
	img, err := Parse(testimage.New().Build())
	require.NoError(t, err)

	rva, err := img.VAToRVA(testimage.DefaultImageBase + 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2000), rva)

	_, err = img.VAToRVA(testimage.DefaultImageBase - 1)
	assert.True(t, errors.IsCode(err, errors.ErrFormat))

	_, err = img.VAToRVA(testimage.DefaultImageBase + uint64(img.SizeOfImage()))
	assert.True(t, errors.IsCode(err, errors.ErrFormat))

	_, err = img.VAToRVA(0)
	assert.True(t, errors.IsCode(err, errors.ErrFormat))
}

const (
	coffOffset     = 0x84
	optOffset      = coffOffset + 20
	sectionsOffset = optOffset + 240
)

func patch(data []byte, fn func([]byte)) []byte {
	out := append([]byte(nil), data...)
	fn(out)
	return out
}

func allocated(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

// Size fields of tables outside the headers must not drive any read or
// allocation: the image still parses and its export still resolves.
func TestParseIgnoresUnrelatedTables(t *testing.T) {
	valid := testimage.Plugin(1, "Loader", "Cherry", "desc", 0, 1, 0).Build()
	le := binary.LittleEndian

	tests := []struct {
		name string
		edit func([]byte)
	}{
		{"string table length", func(b []byte) {
			le.PutUint32(b[coffOffset+8:], 0x40)
			le.PutUint32(b[coffOffset+12:], 0)
			le.PutUint32(b[0x40:], 0xf0000000)
		}},
		{"symbol count", func(b []byte) {
			le.PutUint32(b[coffOffset+8:], 0x40)
			le.PutUint32(b[coffOffset+12:], 0xffffffff)
		}},
		{"com descriptor size", func(b []byte) {
			// IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR = 14
			le.PutUint32(b[optOffset+112+14*8:], 0x2000)
			le.PutUint32(b[optOffset+112+14*8+4:], 0xfffffff0)
		}},
		{"certificate table size", func(b []byte) {
			// IMAGE_DIRECTORY_ENTRY_SECURITY = 4
			le.PutUint32(b[optOffset+112+4*8:], 0x40)
			le.PutUint32(b[optOffset+112+4*8+4:], 0xfffffff0)
		}},
		{"relocation count", func(b []byte) {
			le.PutUint32(b[sectionsOffset+24:], 0x40)
			le.PutUint16(b[sectionsOffset+32:], 0xffff)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := patch(valid, tt.edit)

			var err error
			var rva uint32
			n := allocated(func() {
				var img *Image
				img, err = Parse(data)
				if err == nil {
					rva, err = img.FindExport("PLUGIN_DATA")
				}
			})
			require.NoError(t, err)
			assert.NotZero(t, rva)
			assert.Less(t, n, uint64(1<<20), "allocated %d bytes", n)
		})
	}
}

func TestParseShortDataDirectory(t *testing.T) {
	data := testimage.Plugin(1, "Loader", "Cherry", "desc", 0, 1, 0).Build()
	binary.LittleEndian.PutUint32(data[optOffset+108:], 0)

	img, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, img.HasExport("PLUGIN_DATA"))
}

package peimage

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-pluginmeta/internal/testimage"
	"github.com/carved4/go-pluginmeta/pkg/errors"
)

func TestExportsSortedByName(t *testing.T) {
	b := testimage.New()
	b.Export("zeta", 0x1000)
	b.Export("alpha", 0x1004)
	b.Export("PLUGIN_DATA", b.AddBytes(make([]byte, 8)))

	img, err := Parse(b.Build())
	require.NoError(t, err)

	exports, err := img.Exports()
	require.NoError(t, err)
	require.Len(t, exports, 3)
	assert.Equal(t, "PLUGIN_DATA", exports[0].Name)
	assert.Equal(t, "alpha", exports[1].Name)
	assert.Equal(t, "zeta", exports[2].Name)
	assert.Equal(t, uint32(0x1004), exports[1].RVA)
	for _, e := range exports {
		assert.False(t, e.Forwarded)
	}
}

func TestFindExport(t *testing.T) {
	b := testimage.New()
	want := b.AddBytes(make([]byte, 8))
	b.Export("PLUGIN_DATA", want)
	b.Export("DllMain", 0x1000)

	img, err := Parse(b.Build())
	require.NoError(t, err)

	rva, err := img.FindExport("PLUGIN_DATA")
	require.NoError(t, err)
	assert.Equal(t, want, rva)
	assert.True(t, img.HasExport("DllMain"))

	_, err = img.FindExport("PLUGIN")
	assert.True(t, errors.IsCode(err, errors.ErrSymbolNotFound))
	_, err = img.FindExport("PLUGIN_DATA2")
	assert.True(t, errors.IsCode(err, errors.ErrSymbolNotFound))
	assert.False(t, img.HasExport("plugin_data"))
}

func TestFindExportWithoutDirectory(t *testing.T) {
	b := testimage.New()
	b.OmitExportDirectory = true
	b.Export("PLUGIN_DATA", b.AddBytes(make([]byte, 8)))

	img, err := Parse(b.Build())
	require.NoError(t, err)

	_, err = img.FindExport("PLUGIN_DATA")
	assert.True(t, errors.IsCode(err, errors.ErrSymbolNotFound))
}

func TestFindExportEmptyTable(t *testing.T) {
	img, err := Parse(testimage.New().Build())
	require.NoError(t, err)

	_, err = img.FindExport("PLUGIN_DATA")
	assert.True(t, errors.IsCode(err, errors.ErrSymbolNotFound))
}

func TestForwardedExportIsNotFound(t *testing.T) {
	b := testimage.New()
	b.Export("PLUGIN_DATA", 0)
	data := b.Build()

	img, err := Parse(data)
	require.NoError(t, err)

	// point the function entry into the export directory itself
	exports, err := img.Exports()
	require.NoError(t, err)
	require.Len(t, exports, 1)
	funcsOff := exportDirOffset(t, img) + 40
	binary.LittleEndian.PutUint32(data[funcsOff:], img.exportRVA+4)

	exports, err = img.Exports()
	require.NoError(t, err)
	assert.True(t, exports[0].Forwarded)

	_, err = img.FindExport("PLUGIN_DATA")
	assert.True(t, errors.IsCode(err, errors.ErrSymbolNotFound))
}

func TestExportsMalformed(t *testing.T) {
	t.Run("ordinal out of range", func(t *testing.T) {
		b := testimage.New()
		b.Export("PLUGIN_DATA", 0x1000)
		data := b.Build()
		img, err := Parse(data)
		require.NoError(t, err)

		ordsOff := exportDirOffset(t, img) + 40 + 4 + 4
		binary.LittleEndian.PutUint16(data[ordsOff:], 7)

		_, err = img.FindExport("PLUGIN_DATA")
		assert.True(t, errors.IsCode(err, errors.ErrFormat))
	})

	t.Run("huge name count", func(t *testing.T) {
		b := testimage.New()
		b.Export("PLUGIN_DATA", 0x1000)
		data := b.Build()
		img, err := Parse(data)
		require.NoError(t, err)

		binary.LittleEndian.PutUint32(data[exportDirOffset(t, img)+24:], 0xffffffff)

		_, err = img.Exports()
		assert.True(t, errors.IsCode(err, errors.ErrFormat))
	})

	t.Run("name outside sections", func(t *testing.T) {
		b := testimage.New()
		b.Export("PLUGIN_DATA", 0x1000)
		data := b.Build()
		img, err := Parse(data)
		require.NoError(t, err)

		namesOff := exportDirOffset(t, img) + 40 + 4
		binary.LittleEndian.PutUint32(data[namesOff:], 0x7fff0000)

		_, err = img.Exports()
		assert.True(t, errors.IsCode(err, errors.ErrFormat))
	})
}

func exportDirOffset(t *testing.T, img *Image) int {
	t.Helper()
	off, err := img.RVAToFileOffset(img.exportRVA)
	require.NoError(t, err)
	return off
}

// Package plugin bundles an image buffer with the metadata record decoded
// from it, so the buffer and every view into it share one owner.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/carved4/go-pluginmeta/pkg/blob"
	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/errors"
	"github.com/carved4/go-pluginmeta/pkg/peimage"
)

// DefaultMaxFileSize caps how large a candidate image may be (256MB).
const DefaultMaxFileSize = 256 << 20

type Options struct {
	// SymbolName overrides the export holding the record.
	SymbolName string
	// MaxFileSize is the largest file Load will read. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// Allocator defaults to blob.DefaultAllocator().
	Allocator *blob.Allocator
	Logger    zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.SymbolName == "" {
		o.SymbolName = descriptor.SymbolName
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Allocator == nil {
		o.Allocator = blob.DefaultAllocator()
	}
	return o
}

// Data owns an image buffer and the descriptor decoded from it. It is
// immutable once returned and safe for concurrent readers; Close must not run
// concurrently with them.
type Data struct {
	path string
	blob *blob.Blob
	img  *peimage.Image
	desc descriptor.Descriptor
}

// Info is a snapshot of a module's metadata that does not reference the
// image buffer.
type Info struct {
	Path        string             `json:"path" yaml:"path"`
	Name        string             `json:"name" yaml:"name"`
	Author      string             `json:"author" yaml:"author"`
	Description string             `json:"description" yaml:"description"`
	Version     descriptor.Version `json:"version" yaml:"version"`
	Tag         uint64             `json:"data_version" yaml:"data_version"`
}

// Load reads the module at path and decodes its metadata record.
func Load(path string) (*Data, error) {
	return LoadWithOptions(path, Options{})
}

func LoadWithOptions(path string, opts Options) (*Data, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With().Str("path", path).Logger()

	b, err := readFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug().Int("size", b.Len()).Msg("image read")

	d, err := fromBlob(b, opts, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.path = path
	return d, nil
}

// FromBlob decodes the record from an already populated blob and takes
// ownership of it. On failure the blob is freed.
func FromBlob(b *blob.Blob, opts Options) (*Data, error) {
	opts = opts.withDefaults()
	return fromBlob(b, opts, opts.Logger)
}

func fromBlob(b *blob.Blob, opts Options, log zerolog.Logger) (d *Data, err error) {
	defer func() {
		if err != nil {
			if ferr := b.Free(); ferr != nil {
				log.Warn().Err(ferr).Msg("failed to release image buffer")
			}
		}
	}()

	data := b.Bytes()
	img, err := peimage.Parse(data)
	if err != nil {
		return nil, err
	}
	rva, err := img.FindExport(opts.SymbolName)
	if err != nil {
		return nil, err
	}
	off, err := img.RVAToFileOffset(rva)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("symbol", opts.SymbolName).
		Uint32("rva", rva).
		Int("offset", off).
		Msg("export resolved")

	desc, err := descriptor.Decode(data, off, img)
	if err != nil {
		return nil, err
	}
	return &Data{blob: b, img: img, desc: desc}, nil
}

func readFile(path string, opts Options) (*blob.Blob, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(errors.ErrIo, err, "open")
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.ErrIo, err, "stat")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Newf(errors.ErrIo, "%s is not a regular file", path)
	}
	if info.Size() > opts.MaxFileSize {
		return nil, errors.Newf(errors.ErrIo, "file is %d bytes, limit is %d", info.Size(), opts.MaxFileSize)
	}

	b, err := opts.Allocator.New(int(info.Size()))
	if err != nil {
		return nil, err
	}
	if err := b.Fill(f); err != nil {
		_ = b.Free()
		return nil, err
	}
	return b, nil
}

// Close releases the image buffer. Calling Close more than once is a no-op.
//
// Every accessor that reads the buffer must not be used afterwards: Name,
// Author, Description, their Bytes variants, Info and String. Path, Tag,
// Version and Descriptor stay usable. Take an Info snapshot first to keep the
// strings.
func (d *Data) Close() error {
	if d == nil || d.blob == nil {
		return nil
	}
	d.img = nil
	return d.blob.Free()
}

func (d *Data) Path() string { return d.path }

// Descriptor returns the decoded record. Its BoundStrings index Bytes().
func (d *Data) Descriptor() descriptor.Descriptor { return d.desc }

// Image returns the parsed headers of the backing image.
func (d *Data) Image() *peimage.Image { return d.img }

// Bytes returns the backing image, valid until Close.
func (d *Data) Bytes() []byte { return d.blob.Bytes() }

// Name, Author and Description copy out of the buffer and must not be
// called after Close.
func (d *Data) Name() string        { return d.desc.Name.String(d.Bytes()) }
func (d *Data) Author() string      { return d.desc.Author.String(d.Bytes()) }
func (d *Data) Description() string { return d.desc.Description.String(d.Bytes()) }

// NameBytes, AuthorBytes and DescriptionBytes alias the image buffer and are
// invalid after Close.
func (d *Data) NameBytes() []byte        { return d.desc.Name.Bytes(d.Bytes()) }
func (d *Data) AuthorBytes() []byte      { return d.desc.Author.Bytes(d.Bytes()) }
func (d *Data) DescriptionBytes() []byte { return d.desc.Description.Bytes(d.Bytes()) }

func (d *Data) Version() descriptor.Version { return d.desc.Version }

// Tag is the record's data version.
func (d *Data) Tag() uint64 { return d.desc.Tag }

// Info copies the metadata out of the buffer. Call it before Close.
func (d *Data) Info() Info {
	return Info{
		Path:        d.path,
		Name:        d.Name(),
		Author:      d.Author(),
		Description: d.Description(),
		Version:     d.desc.Version,
		Tag:         d.desc.Tag,
	}
}

func (d *Data) String() string {
	return fmt.Sprintf("%s %s by %s", d.Name(), d.desc.Version, d.Author())
}

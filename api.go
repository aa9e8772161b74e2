package pluginmeta

import (
	"context"

	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/errors"
	"github.com/carved4/go-pluginmeta/pkg/handle"
	"github.com/carved4/go-pluginmeta/pkg/plugin"
	"github.com/carved4/go-pluginmeta/pkg/scan"
)

type (
	Data       = plugin.Data
	Info       = plugin.Info
	Options    = plugin.Options
	Version    = descriptor.Version
	Descriptor = descriptor.Descriptor
	Code       = errors.Code
	Handle     = handle.Handle
	Result     = scan.Result
)

const (
	ErrIo                 = errors.ErrIo
	ErrFormat             = errors.ErrFormat
	ErrSymbolNotFound     = errors.ErrSymbolNotFound
	ErrVersionUnsupported = errors.ErrVersionUnsupported
	ErrDataCorrupt        = errors.ErrDataCorrupt
	ErrAllocation         = errors.ErrAllocation

	CurrentVersion = descriptor.CurrentVersion
	SymbolName     = descriptor.SymbolName
)

var Load = plugin.Load
var LoadWithOptions = plugin.LoadWithOptions

var IsCode = errors.IsCode
var CodeOf = errors.CodeOf

// IsBenign reports errors a host enumerating a directory should skip quietly.
var IsBenign = errors.IsBenign

// Acquire and Release manage opaque handles for hosts that cannot hold Go
// pointers. See package handle.
var Acquire = handle.AcquireString
var Release = handle.Release

// ReadInfo loads path, copies its metadata out and releases the buffer.
func ReadInfo(path string) (Info, error) {
	d, err := plugin.Load(path)
	if err != nil {
		return Info{}, err
	}
	defer d.Close()
	return d.Info(), nil
}

// Scan inspects every .dll under dirs, recursively, with default options.
func Scan(ctx context.Context, dirs ...string) ([]Result, error) {
	s := &scan.Scanner{
		Extensions: []string{".dll"},
		Workers:    4,
		Recursive:  true,
		Dedupe:     true,
	}
	return s.Scan(ctx, dirs...)
}

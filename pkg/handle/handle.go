// Package handle exposes loaded module metadata through opaque handles for
// callers that manage lifetimes by hand (acquire, read, release), such as
// the C shim in cmd/pluginmeta-capi.
//
// Views returned by Name, Author and Description alias the handle's image
// buffer. They become invalid the moment Release is called for that handle;
// this is a precondition on the caller and is not detected.
package handle

import (
	"sync"
	"unsafe"

	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/plugin"
	"github.com/carved4/go-pluginmeta/pkg/utils"
)

// Handle identifies one acquired module. Null is never a valid handle.
type Handle uintptr

const Null Handle = 0

// View is a raw, non-owning string: Len UTF-8 bytes at Data, followed by a
// NUL byte. The zero View means "no such handle".
type View struct {
	Data *byte
	Len  uintptr
}

// Bytes returns the bytes behind v. The slice is subject to the same
// lifetime as v.
func (v View) Bytes() []byte {
	if v.Data == nil {
		return nil
	}
	return unsafe.Slice(v.Data, v.Len)
}

var table = struct {
	sync.Mutex
	next    Handle
	entries map[Handle]*plugin.Data
	opts    plugin.Options
}{entries: make(map[Handle]*plugin.Data)}

// SetOptions changes the options used by later Acquire calls.
func SetOptions(opts plugin.Options) {
	table.Lock()
	table.opts = opts
	table.Unlock()
}

// SetSymbolName changes the export later Acquire calls look up. An empty
// name restores the default.
func SetSymbolName(name string) {
	table.Lock()
	table.opts.SymbolName = name
	table.Unlock()
}

// Acquire loads the module at path, given as UTF-16 code units of explicit
// length. It returns Null on any failure, with nothing left allocated.
func Acquire(path []uint16) Handle {
	p, ok := utils.UTF16ToString(path)
	if !ok {
		return Null
	}
	return AcquireString(p)
}

func AcquireString(path string) Handle {
	if path == "" {
		return Null
	}
	table.Lock()
	opts := table.opts
	table.Unlock()

	d, err := plugin.LoadWithOptions(path, opts)
	if err != nil {
		opts.Logger.Debug().Err(err).Str("path", path).Msg("acquire failed")
		return Null
	}

	table.Lock()
	defer table.Unlock()
	table.next++
	h := table.next
	table.entries[h] = d
	return h
}

func lookup(h Handle) *plugin.Data {
	table.Lock()
	defer table.Unlock()
	return table.entries[h]
}

func view(d *plugin.Data, s descriptor.BoundString) View {
	buf := d.Bytes()
	// the terminator at Offset+Len keeps &buf[Offset] valid for empty strings
	return View{Data: &buf[s.Offset], Len: uintptr(s.Len)}
}

func Name(h Handle) View {
	d := lookup(h)
	if d == nil {
		return View{}
	}
	return view(d, d.Descriptor().Name)
}

func Author(h Handle) View {
	d := lookup(h)
	if d == nil {
		return View{}
	}
	return view(d, d.Descriptor().Author)
}

func Description(h Handle) View {
	d := lookup(h)
	if d == nil {
		return View{}
	}
	return view(d, d.Descriptor().Description)
}

func GetVersion(h Handle) (descriptor.Version, bool) {
	d := lookup(h)
	if d == nil {
		return descriptor.Version{}, false
	}
	return d.Version(), true
}

// Release frees everything behind h. Null and unknown handles are ignored.
// Each handle must be released at most once.
func Release(h Handle) {
	if h == Null {
		return
	}
	table.Lock()
	d := table.entries[h]
	delete(table.entries, h)
	table.Unlock()

	if d != nil {
		_ = d.Close()
	}
}

// Live returns the number of handles not yet released.
func Live() int {
	table.Lock()
	defer table.Unlock()
	return len(table.entries)
}

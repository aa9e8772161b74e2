// Command pluginmeta-capi builds the C ABI for module metadata lookups:
//
//	go build -buildmode=c-shared -o pluginmeta.dll ./cmd/pluginmeta-capi
//
// Every failure is reported as a 0 handle or an empty PluginStr. Strings
// returned by get_name, get_author and get_description point into memory
// owned by the handle; they are NUL terminated and stop being valid when
// release_descriptor is called for that handle.
package main

/*
#include <stddef.h>
#include <stdint.h>

typedef struct {
	const char *data;
	size_t len;
} PluginStr;

typedef struct {
	uint16_t major;
	uint16_t minor;
	uint16_t patch;
} PluginVersion;
*/
import "C"

import (
	"unsafe"

	"github.com/carved4/go-pluginmeta/pkg/handle"
	"github.com/carved4/go-pluginmeta/pkg/utils"
)

func main() {}

// acquire_descriptor loads the module at path (len UTF-16 code units, not
// bytes) and returns a handle, or 0 on failure.
//
//export acquire_descriptor
func acquire_descriptor(path *C.uint16_t, length C.size_t) C.uintptr_t {
	if path == nil || length == 0 {
		return 0
	}
	units := unsafe.Slice((*uint16)(unsafe.Pointer(path)), int(length))
	return C.uintptr_t(handle.Acquire(units))
}

// set_symbol_name changes the export looked up by later acquire_descriptor
// calls (len UTF-16 code units). A zero length restores PLUGIN_DATA. Returns
// 0 when name is not valid UTF-16.
//
//export set_symbol_name
func set_symbol_name(name *C.uint16_t, length C.size_t) C.int {
	if name == nil || length == 0 {
		handle.SetSymbolName("")
		return 1
	}
	s, ok := utils.UTF16ToString(unsafe.Slice((*uint16)(unsafe.Pointer(name)), int(length)))
	if !ok {
		return 0
	}
	handle.SetSymbolName(s)
	return 1
}

func toStr(v handle.View) C.PluginStr {
	return C.PluginStr{
		data: (*C.char)(unsafe.Pointer(v.Data)),
		len:  C.size_t(v.Len),
	}
}

//export get_name
func get_name(h C.uintptr_t) C.PluginStr {
	return toStr(handle.Name(handle.Handle(h)))
}

//export get_author
func get_author(h C.uintptr_t) C.PluginStr {
	return toStr(handle.Author(handle.Handle(h)))
}

//export get_description
func get_description(h C.uintptr_t) C.PluginStr {
	return toStr(handle.Description(handle.Handle(h)))
}

// get_version returns 0.0.0 for an unknown handle.
//
//export get_version
func get_version(h C.uintptr_t) C.PluginVersion {
	v, _ := handle.GetVersion(handle.Handle(h))
	return C.PluginVersion{
		major: C.uint16_t(v.Major),
		minor: C.uint16_t(v.Minor),
		patch: C.uint16_t(v.Patch),
	}
}

// release_descriptor frees the handle and everything it owns. Passing 0 is a
// no-op; releasing the same handle twice is not allowed.
//
//export release_descriptor
func release_descriptor(h C.uintptr_t) {
	handle.Release(handle.Handle(h))
}

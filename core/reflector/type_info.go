// Package reflector resolves and caches names of Go types. The entity runtime
// uses it to derive default event and state type names.
package reflector

import (
	"path"
	"reflect"
	"sync"
)

// maxCacheSize bounds the type cache; the cache is cleared when exceeded.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds metadata about a reflected type.
type TypeInfo struct {
	Name      string       // Fully qualified name: "pkg/path.TypeName"
	ShortName string       // Package-local name: "path.TypeName"
	Type      reflect.Type // The underlying reflect.Type
}

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor returns TypeInfo for type parameter T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for t. Pointer types are described by
// their element type. Safe for concurrent use.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Type: t}
	if pkg := t.PkgPath(); pkg != "" {
		ti.Name = pkg + "." + t.Name()
		ti.ShortName = path.Base(pkg) + "." + t.Name()
	} else {
		// builtin or unnamed types
		ti.Name = t.String()
		ti.ShortName = t.String()
	}

	muCache.Lock()
	defer muCache.Unlock()
	if existing, ok := cache[t]; ok {
		return existing
	}
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	return ti
}

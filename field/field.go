// Package field implements the typed, named attribute container shared by
// every graph node (process, pipeline, switch, iteration): Field describes
// an attribute, Controller holds a set of fields and their current values
// with change notification.
package field

import "fmt"

// PathType classifies whether a field's value is expected to be a
// filesystem path, and if so whether it names a file or a directory.
type PathType int

const (
	PathTypeNone PathType = iota
	PathTypeFile
	PathTypeDirectory
)

func (p PathType) String() string {
	switch p {
	case PathTypeFile:
		return "file"
	case PathTypeDirectory:
		return "directory"
	default:
		return "none"
	}
}

// undefinedType is a distinguished type so that Undefined compares unequal
// to nil, "", 0 and every other value while still being comparable.
type undefinedType struct{}

// Undefined is the sentinel carried by a field that has never been
// assigned a value (distinct from nil/zero-value and from any valid value).
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefinedType)
	return ok
}

// reservedNames are node-level attributes that a Field may never shadow.
var reservedNames = map[string]bool{
	"enabled":   true,
	"activated": true,
	"node_type": true,
	"name":      true,
}

// Field is a typed, named attribute descriptor.
type Field struct {
	Name              string
	Type              string // "string", "int", "float", "bool", "any", "list<T>" for any base T
	Default           interface{}
	IsOutput          bool
	Optional          bool
	Hidden            bool
	PathType          PathType
	Dataset           string
	AllowedExtensions []string
	Doc               string
	Metadata          map[string]interface{}
}

// HasDefault reports whether the field carries a non-undefined default.
func (f *Field) HasDefault() bool {
	return f.Default != nil && !IsUndefined(f.Default)
}

// IsList reports whether the field's declared type is a list type.
func (f *Field) IsList() bool {
	return IsListType(f.Type)
}

// ElemType returns the element type of a list field, or the field's own
// type if it is not a list.
func (f *Field) ElemType() string {
	return ElemType(f.Type)
}

// IsListType reports whether a type string denotes a list, i.e. "list<T>".
func IsListType(t string) bool {
	return len(t) > 6 && t[:5] == "list<" && t[len(t)-1] == '>'
}

// ElemType strips the "list<...>" wrapper, returning t unchanged if it is
// not a list type.
func ElemType(t string) string {
	if !IsListType(t) {
		return t
	}
	return t[5 : len(t)-1]
}

// ListOf builds the list-type name for a base type.
func ListOf(base string) string {
	return "list<" + base + ">"
}

// TypesCompatible implements the link discipline of spec.md §4.2: exact
// equality, "any" accepts everything, and a list type accepts either a
// single element of its base type or the same list type (the declared
// list-proxy rule).
func TypesCompatible(dst, src string) bool {
	if dst == "any" || src == "any" {
		return true
	}
	if dst == src {
		return true
	}
	if IsListType(dst) && ElemType(dst) == src {
		return true
	}
	if IsListType(src) && ElemType(src) == dst {
		return true
	}
	return false
}

// ErrReservedName is returned by Controller.AddField for a name colliding
// with a node-level reserved attribute.
type ErrReservedName struct{ Name string }

func (e *ErrReservedName) Error() string {
	return fmt.Sprintf("field name %q collides with a reserved node attribute", e.Name)
}

// IsReservedName reports whether name is a reserved node-level attribute.
func IsReservedName(name string) bool {
	return reservedNames[name]
}

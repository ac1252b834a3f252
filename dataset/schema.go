// Package dataset implements the attributes-based path completion system:
// a Dataset points at a root directory tagged with a named MetadataSchema,
// which knows how to turn a set of metadata attributes into a path and
// back (spec.md §4.3, supplemented from dataset.py since the distilled
// spec only names the module).
package dataset

import (
	"fmt"
	"sort"
)

// Schema is a named, attribute-driven path layout. Concrete schemas
// (BIDSSchema, BrainVISASchema, MorphologistBIDSSchema) store their
// attributes in a plain map and build a path from the subset currently
// set, skipping anything named in the "unused" set (grounded on
// MetadataSchema._path_list/build_path/build_param).
type Schema interface {
	Name() string
	BasePath() string
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	ImportDict(values map[string]interface{})
	AsDict() map[string]interface{}
	// PathList builds the ordered path components from the schema's
	// current attribute values, omitting any key present in unused.
	PathList(unused map[string]bool) ([]string, error)
}

// PathReader is implemented by schemas that can parse a path back into
// metadata (only BIDSSchema does, grounded on BIDSSchema.metadata).
type PathReader interface {
	Metadata(path string) (map[string]interface{}, error)
}

// Finder is implemented by schemas that can locate existing files matching
// a partial attribute set (only BIDSSchema does, grounded on
// BIDSSchema.find).
type Finder interface {
	Find(filters map[string]interface{}) ([]string, error)
}

// baseSchema implements the attribute bag shared by every concrete schema.
type baseSchema struct {
	name     string
	basePath string
	attrs    map[string]interface{}
}

func newBaseSchema(name, basePath string) baseSchema {
	return baseSchema{name: name, basePath: basePath, attrs: make(map[string]interface{})}
}

func (b *baseSchema) Name() string     { return b.name }
func (b *baseSchema) BasePath() string { return b.basePath }

func (b *baseSchema) Get(key string) (interface{}, bool) {
	v, ok := b.attrs[key]
	return v, ok
}

func (b *baseSchema) Set(key string, value interface{}) {
	b.attrs[key] = value
}

func (b *baseSchema) ImportDict(values map[string]interface{}) {
	for k, v := range values {
		b.Set(k, v)
	}
}

func (b *baseSchema) AsDict() map[string]interface{} {
	out := make(map[string]interface{}, len(b.attrs))
	for k, v := range b.attrs {
		out[k] = v
	}
	return out
}

func (b *baseSchema) getString(key string) string {
	v, ok := b.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// BuildPath joins a schema's path list onto its base path.
func BuildPath(s Schema, unused map[string]bool) (string, error) {
	list, err := s.PathList(unused)
	if err != nil {
		return "", err
	}
	path := s.BasePath()
	for _, elem := range list {
		if path == "" {
			path = elem
		} else {
			path = path + "/" + elem
		}
	}
	return path, nil
}

// BuildParam returns either a full path (pathType true) or a "/"-joined
// relative parameter string, skipping empty elements, mirroring
// MetadataSchema.build_param's two modes.
func BuildParam(s Schema, pathType bool, unused map[string]bool) (string, error) {
	if pathType {
		return BuildPath(s, unused)
	}
	list, err := s.PathList(unused)
	if err != nil {
		return "", err
	}
	nonEmpty := make([]string, 0, len(list))
	for _, elem := range list {
		if elem != "" {
			nonEmpty = append(nonEmpty, elem)
		}
	}
	out := ""
	for i, elem := range nonEmpty {
		if i > 0 {
			out += "/"
		}
		out += elem
	}
	return out, nil
}

// Constructor builds a fresh schema rooted at basePath.
type Constructor func(basePath string) Schema

var (
	schemaRegistry  = map[string]Constructor{}
	mappingRegistry = map[[2]string]func(source, dest Schema) error{}
)

// RegisterSchema makes a schema constructor available under name, the way
// importing a capsul.schemas.* submodule registers it in Python
// (MetadataSchema.__init_subclass__).
func RegisterSchema(name string, ctor Constructor) {
	schemaRegistry[name] = ctor
}

// FindSchema looks up a previously registered schema constructor.
func FindSchema(name string) Constructor {
	return schemaRegistry[name]
}

// RegisterSchemaMapping registers a conversion between two schemas
// (grounded on SchemaMapping.__init_subclass__).
func RegisterSchemaMapping(source, dest string, fn func(source, dest Schema) error) {
	mappingRegistry[[2]string{source, dest}] = fn
}

// FindSchemaMapping looks up a previously registered schema mapping.
func FindSchemaMapping(source, dest string) func(source, dest Schema) error {
	return mappingRegistry[[2]string{source, dest}]
}

// RegisteredSchemaNames returns every registered schema name, sorted, for
// diagnostics and config validation.
func RegisteredSchemaNames() []string {
	out := make([]string, 0, len(schemaRegistry))
	for name := range schemaRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ErrUnknownSchema is returned when a dataset names a schema that was never
// registered.
type ErrUnknownSchema struct{ Name string }

func (e *ErrUnknownSchema) Error() string {
	return fmt.Sprintf("unknown metadata schema %q", e.Name)
}

// ErrSchemaDoesNotSupportFind is returned by Dataset.Find when the
// attached schema has no Find implementation (only BIDSSchema does).
type ErrSchemaDoesNotSupportFind struct{ Name string }

func (e *ErrSchemaDoesNotSupportFind) Error() string {
	return fmt.Sprintf("metadata schema %q does not support find", e.Name)
}

package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Dataset is a root directory tagged with a named metadata schema. It is
// typically one entry of an execution context's configured dataset map
// (spec.md §4.3), not something pipeline authors construct directly
// (grounded on dataset.Dataset).
type Dataset struct {
	Path               string
	MetadataSchemaName string

	schema Schema
}

// New builds a Dataset rooted at path. If metadataSchema is empty, it is
// read from a "capsul.json" file at the dataset root, if present (grounded
// on Dataset.__init__).
func New(path, metadataSchema string) (*Dataset, error) {
	d := &Dataset{Path: path}
	if metadataSchema == "" && path != "" {
		if b, err := os.ReadFile(filepath.Join(path, "capsul.json")); err == nil {
			var cfg struct {
				MetadataSchema string `json:"metadata_schema"`
			}
			if json.Unmarshal(b, &cfg) == nil {
				metadataSchema = cfg.MetadataSchema
			}
		}
	}
	if metadataSchema != "" {
		if err := d.SetMetadataSchema(metadataSchema); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetMetadataSchema instantiates and attaches the named schema (grounded on
// Dataset.schema_change_callback).
func (d *Dataset) SetMetadataSchema(name string) error {
	ctor := FindSchema(name)
	if ctor == nil {
		return &ErrUnknownSchema{Name: name}
	}
	d.MetadataSchemaName = name
	d.schema = ctor(d.Path)
	return nil
}

// Schema returns the dataset's attached schema instance, or nil.
func (d *Dataset) Schema() Schema { return d.schema }

// Find locates existing files under the dataset matching filters, using
// the attached schema's Find implementation (grounded on Dataset.find).
func (d *Dataset) Find(filters map[string]interface{}) ([]string, error) {
	finder, ok := d.schema.(Finder)
	if !ok {
		return nil, &ErrSchemaDoesNotSupportFind{Name: d.MetadataSchemaName}
	}
	return finder.Find(filters)
}

package config

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// CapsulDocument is the hierarchical JSON configuration spec.md §6
// describes: "databases.<name>.path", named "engines.<name>" blocks, and
// open-ended module-configuration subtrees keyed by process-module name
// (e.g. "fakespm.spm12.directory"). Distinct from Config, which is this
// service's own env-var-driven settings (port, log level, Postgres DSN);
// a CapsulDocument is the document an engine loads to learn dataset root
// paths and per-module settings, the "configuration loader" spec.md §1
// treats as an external collaborator.
type CapsulDocument struct {
	raw gjson.Result
}

// LoadCapsulDocument reads and parses a capsul.json-shaped file.
func LoadCapsulDocument(path string) (*CapsulDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capsul config %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("capsul config %s is not valid JSON", path)
	}
	return &CapsulDocument{raw: gjson.ParseBytes(data)}, nil
}

// DatabasePath returns "databases.<name>.path".
func (d *CapsulDocument) DatabasePath(name string) (string, bool) {
	r := d.raw.Get(fmt.Sprintf("databases.%s.path", name))
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// DatasetConfig is one "engines.<name>.dataset.<name>" entry.
type DatasetConfig struct {
	Path           string
	MetadataSchema string
}

// EngineConfig is one "engines.<name>" block.
type EngineConfig struct {
	Database     string
	Persistent   bool
	StartWorkers int
	Datasets     map[string]DatasetConfig
}

// Engine resolves the named "engines.<name>" block.
func (d *CapsulDocument) Engine(name string) (EngineConfig, bool) {
	r := d.raw.Get(fmt.Sprintf("engines.%s", name))
	if !r.Exists() {
		return EngineConfig{}, false
	}

	cfg := EngineConfig{
		Database:     r.Get("database").String(),
		Persistent:   r.Get("persistent").Bool(),
		StartWorkers: int(r.Get("start_workers").Int()),
		Datasets:     make(map[string]DatasetConfig),
	}
	r.Get("dataset").ForEach(func(key, value gjson.Result) bool {
		cfg.Datasets[key.String()] = DatasetConfig{
			Path:           value.Get("path").String(),
			MetadataSchema: value.Get("metadata_schema").String(),
		}
		return true
	})
	return cfg, true
}

// Module returns the open-ended module-configuration subtree at path
// (e.g. "fakespm.spm12"), whose keys aren't known at compile time —
// exactly the dynamic-path access gjson is built for.
func (d *CapsulDocument) Module(path string) gjson.Result {
	return d.raw.Get(path)
}

// DatasetPaths flattens an EngineConfig's datasets into the plain
// name->path map engine.Engine.Datasets expects; metadata schema names
// are resolved lazily by dataset.New/Engine.ResolveDatasets instead of
// threaded through here.
func (e EngineConfig) DatasetPaths() map[string]string {
	out := make(map[string]string, len(e.Datasets))
	for name, ds := range e.Datasets {
		out[name] = ds.Path
	}
	return out
}

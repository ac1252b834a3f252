package procmeta

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/capsul-go/capsul/dataset"
	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
	"github.com/capsul-go/capsul/iteration"
)

// ProcessMetadata associates an executable's path parameters with the
// dataset (and therefore schema) they should be completed against, and
// drives generating those paths (grounded on dataset.ProcessMetadata).
type ProcessMetadata struct {
	executable graph.NodeKind

	datasets map[string]*dataset.Dataset

	parametersPerSchema map[string][]string
	schemaPerParameter  map[string]string
	datasetPerParameter map[string]string

	schemaValues map[string]dataset.Schema

	// LastPatch holds the RFC7396 merge-patch diff between the metadata
	// held before and after the most recent PathForParameters call, for an
	// execution record's audit trail.
	LastPatch []byte
}

// NewProcessMetadata builds a ProcessMetadata for executable's user fields,
// associating each path-typed field with a dataset named either explicitly
// (explicitDatasets, highest priority), via the field's "dataset" metadata
// tag, or defaulted to "input"/"output" by direction (grounded on
// ProcessMetadata.__init__ and parameter_dataset_name).
func NewProcessMetadata(executable graph.NodeKind, datasets map[string]*dataset.Dataset, explicitDatasets map[string]string) (*ProcessMetadata, error) {
	m := &ProcessMetadata{
		executable:          executable,
		datasets:            datasets,
		parametersPerSchema: make(map[string][]string),
		schemaPerParameter:  make(map[string]string),
		datasetPerParameter: make(map[string]string),
		schemaValues:        make(map[string]dataset.Schema),
	}

	process := m.baseProcess(executable)

	for _, f := range process.Base().Fields.UserFields() {
		datasetName := parameterDatasetName(f, explicitDatasets)
		if datasetName == "" {
			continue
		}
		ds, ok := datasets[datasetName]
		if !ok {
			continue
		}
		schemaName := ds.MetadataSchemaName
		if schemaName == "" {
			continue
		}
		m.datasetPerParameter[f.Name] = datasetName
		m.schemaPerParameter[f.Name] = schemaName
		m.parametersPerSchema[schemaName] = append(m.parametersPerSchema[schemaName], f.Name)
		if _, ok := m.schemaValues[schemaName]; !ok {
			ctor := dataset.FindSchema(schemaName)
			if ctor == nil {
				return nil, fmt.Errorf("unknown metadata schema %q for dataset %q", schemaName, datasetName)
			}
			m.schemaValues[schemaName] = ctor("")
		}
	}
	return m, nil
}

// baseProcess unwraps a ProcessIteration to the process it wraps, whose
// fields carry the path parameters; GeneratePaths generates an iteration's
// paths one index at a time through that process.
func (m *ProcessMetadata) baseProcess(executable graph.NodeKind) graph.NodeKind {
	if it, ok := executable.(*iteration.ProcessIteration); ok {
		return it.Base_
	}
	return executable
}

func parameterDatasetName(f *field.Field, explicitDatasets map[string]string) string {
	if name, ok := explicitDatasets[f.Name]; ok {
		return name
	}
	if f.Dataset != "" {
		return f.Dataset
	}
	if f.PathType == field.PathTypeNone {
		return ""
	}
	if f.IsOutput {
		return "output"
	}
	return "input"
}

// Schema returns the shared attribute holder for a schema name, the
// pipeline author's handle for setting attributes like "sub"/"center"
// before generating paths (grounded on ProcessMetadata.__getattr__ lazily
// building one MetadataSchema instance per referenced schema name).
func (m *ProcessMetadata) Schema(name string) dataset.Schema {
	if s, ok := m.schemaValues[name]; ok {
		return s
	}
	ctor := dataset.FindSchema(name)
	if ctor == nil {
		return nil
	}
	s := ctor("")
	m.schemaValues[name] = s
	return s
}

// GeneratePaths computes and assigns every dataset-associated path
// parameter of executable (defaulting to the ProcessMetadata's own
// executable) in place (grounded on ProcessMetadata.generate_paths). A
// ProcessIteration is handled by generating one schema instance per
// iteration index, per spec.md §9's instruction to follow the tested
// behavior rather than the source's not-implemented branch.
func (m *ProcessMetadata) GeneratePaths(executable graph.NodeKind) error {
	if executable == nil {
		executable = m.executable
	}
	if it, ok := executable.(*iteration.ProcessIteration); ok {
		return m.generateIterationPaths(it)
	}
	values, err := m.PathForParameters(executable, nil)
	if err != nil {
		return err
	}
	for param, value := range values {
		executable.Base().Fields.Set(param, value)
	}
	return nil
}

// generateIterationPaths builds one schema instance per iteration index
// for every iterative path parameter, broadcasting the resulting list of
// built paths back onto the iteration node's own list-valued field, and a
// single schema instance (at index 0) for every regular path parameter,
// since a parameter forwarded unchanged by value has no per-index
// variation to broadcast (grounded on the tested iteration_size/
// select_iteration_index broadcast contract, spec.md §4.2/§9).
func (m *ProcessMetadata) generateIterationPaths(it *iteration.ProcessIteration) error {
	size, err := it.IterationSize()
	if err != nil {
		return err
	}
	if size == 0 {
		size = 1
	}

	iterative := make(map[string]bool, len(it.IterativeParameters()))
	for _, name := range it.IterativeParameters() {
		iterative[name] = true
	}

	perIndex := make(map[string][]interface{})
	for i := 0; i < size; i++ {
		it.SelectIterationIndex(i)
		values, err := m.PathForParameters(it.Base_, nil)
		if err != nil {
			return err
		}
		for param, value := range values {
			if i == 0 || iterative[param] {
				perIndex[param] = append(perIndex[param], value)
			}
		}
	}

	for param, values := range perIndex {
		if iterative[param] {
			it.Fields.Set(param, values)
		} else {
			it.Fields.Set(param, values[0])
		}
	}
	return nil
}

type resolvedSchema struct {
	unused   map[string]map[string]bool
	metadata map[string]map[string]interface{}
}

// PathForParameters computes the completed path string for each of
// parameters (all associated parameters if nil), without assigning them
// (grounded on ProcessMetadata.path_for_parameters). Errors building any
// one parameter's path are swallowed without logging, leaving that
// parameter out of the result; only structural failures (an iteration node,
// a failing schema mapping, an unregistered schema) are returned.
func (m *ProcessMetadata) PathForParameters(executable graph.NodeKind, parameters []string) (map[string]string, error) {
	if _, ok := executable.(*iteration.ProcessIteration); ok {
		return nil, fmt.Errorf("path generation for an iteration is not implemented")
	}

	before, _ := json.Marshal(snapshotSchemas(m.schemaValues))

	for schemaName, source := range m.schemaValues {
		for otherName, dest := range m.schemaValues {
			if otherName == schemaName {
				continue
			}
			if mapping := dataset.FindSchemaMapping(schemaName, otherName); mapping != nil {
				if err := mapping(source, dest); err != nil {
					return nil, fmt.Errorf("mapping schema %q to %q: %w", schemaName, otherName, err)
				}
			}
		}
	}

	after, _ := json.Marshal(snapshotSchemas(m.schemaValues))
	if patch, err := jsonpatch.CreateMergePatch(before, after); err == nil {
		m.LastPatch = patch
	}

	if parameters == nil {
		for _, f := range executable.Base().Fields.UserFields() {
			parameters = append(parameters, f.Name)
		}
	}

	resolved := make(map[string]resolvedSchema)
	result := make(map[string]string)

	for _, parameter := range parameters {
		schemaName, ok := m.schemaPerParameter[parameter]
		if !ok {
			continue
		}
		rs, ok := resolved[schemaName]
		if !ok {
			unused, metadata := ResolveProcessSchema(schemaName, executable)
			rs = resolvedSchema{unused: unused, metadata: metadata}
			resolved[schemaName] = rs
		}

		datasetName := m.datasetPerParameter[parameter]
		ctor := dataset.FindSchema(schemaName)
		if ctor == nil {
			return nil, fmt.Errorf("unknown metadata schema %q", schemaName)
		}
		metaSchema := ctor(fmt.Sprintf("!{dataset.%s.path}", datasetName))
		if base, ok := m.schemaValues[schemaName]; ok {
			metaSchema.ImportDict(base.AsDict())
		}
		if md, ok := rs.metadata[parameter]; ok {
			metaSchema.ImportDict(md)
		}

		f := executable.Base().Fields.Field(parameter)
		if f == nil {
			continue
		}
		path, err := dataset.BuildParam(metaSchema, f.PathType != field.PathTypeNone, rs.unused[parameter])
		if err != nil {
			continue
		}
		result[parameter] = path
	}
	return result, nil
}

func snapshotSchemas(schemas map[string]dataset.Schema) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(schemas))
	for name, s := range schemas {
		out[name] = s.AsDict()
	}
	return out
}

// ResolvePaths substitutes every "!{dataset.<name>.path}" placeholder
// produced by PathForParameters with the actual root path of the named
// dataset, once the execution context knows where each dataset is mounted
// (grounded on the original's deferred base_path resolution in
// path_for_parameters/Dataset metadata substitution).
func ResolvePaths(values map[string]string, datasets map[string]*dataset.Dataset) map[string]string {
	out := make(map[string]string, len(values))
	for param, value := range values {
		out[param] = resolvePlaceholder(value, datasets)
	}
	return out
}

func resolvePlaceholder(value string, datasets map[string]*dataset.Dataset) string {
	for name, ds := range datasets {
		placeholder := fmt.Sprintf("!{dataset.%s.path}", name)
		value = strings.ReplaceAll(value, placeholder, ds.Path)
	}
	return value
}

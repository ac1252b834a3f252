// Package procmeta implements the metadata-to-path completion layer built
// on top of dataset schemas: a registry of per-(schema,executable)
// modifier functions records how an executable's path parameters should be
// derived from the metadata attached to the pipeline run, and
// ProcessMetadata drives generating those paths (spec.md §4.4,
// supplemented from dataset.py's ProcessMetadata/process_schema/
// MetadataModification, whose distilled spec only names the module).
package procmeta

import (
	"path"

	"github.com/capsul-go/capsul/graph"
)

// ProcessSchemaModifier records, for one executable definition under one
// dataset schema, how its path parameters' metadata should be adjusted
// (grounded on the process_schema decorator).
type ProcessSchemaModifier func(m *MetadataModification)

var processSchemaRegistry = map[[2]string]ProcessSchemaModifier{}

// RegisterProcessSchema attaches modifier to (schema, definition). A
// package defining a process typically calls this from an init().
func RegisterProcessSchema(schema, definition string, modifier ProcessSchemaModifier) {
	processSchemaRegistry[[2]string{schema, definition}] = modifier
}

// FindProcessSchema looks up a previously registered modifier.
func FindProcessSchema(schema, definition string) (ProcessSchemaModifier, bool) {
	m, ok := processSchemaRegistry[[2]string{schema, definition}]
	return m, ok
}

type nodeParam struct {
	node  graph.NodeKind
	param string
}

// MetadataModification accumulates a set of metadata edits (set/unused/
// append/prepend) against an executable's path parameters, deferred until
// Apply runs them against a fresh unused/metadata pair (grounded on
// dataset.MetadataModification). Unlike the original's dynamic attribute
// chaining (`mod.output.prefix.set(...)`), Go expresses the same two-level
// selection as an explicit builder: mod.Param("output").Item("prefix").Set(...).
type MetadataModification struct {
	root     graph.NodeKind
	exported map[graph.NodeKind]map[string]string // node -> (its field name -> root's exported name)
	current  graph.NodeKind
	actions  []func(unused map[string]map[string]bool, metadata map[string]map[string]interface{})
}

// NewMetadataModification walks root's link graph once, recording for
// every reachable job node which of its fields correspond to which of
// root's own exported parameters (grounded on MetadataModification.__init__).
func NewMetadataModification(root graph.NodeKind) *MetadataModification {
	m := &MetadataModification{root: root, exported: make(map[graph.NodeKind]map[string]string)}
	for _, f := range root.Base().Fields.UserFields() {
		m.setExported(root, f.Name, f.Name)
		visited := map[nodeParam]bool{{root, f.Name}: true}
		stack := []nodeParam{{root, f.Name}}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pl := cur.node.Base().Plug(cur.param)
			if pl == nil {
				continue
			}
			ends := append(append([]graph.LinkEnd{}, pl.LinksFrom...), pl.LinksTo...)
			for _, le := range ends {
				key := nodeParam{le.PeerNode, le.PeerPlug}
				if visited[key] {
					continue
				}
				visited[key] = true
				stack = append(stack, key)
				if le.PeerNode.IsJob() && le.PeerNode != root {
					m.setExported(le.PeerNode, le.PeerPlug, f.Name)
				}
			}
		}
	}
	return m
}

func (m *MetadataModification) setExported(node graph.NodeKind, field, exportedName string) {
	if m.exported[node] == nil {
		m.exported[node] = make(map[string]string)
	}
	m.exported[node][field] = exportedName
}

func (m *MetadataModification) exportedName(node graph.NodeKind, field string) (string, bool) {
	names, ok := m.exported[node]
	if !ok {
		return "", false
	}
	name, ok := names[field]
	return name, ok
}

func (m *MetadataModification) matchingParameters(patterns []string) []string {
	if m.current == nil {
		return nil
	}
	var out []string
	for _, f := range m.current.Base().Fields.UserFields() {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, f.Name); ok {
				if exported, has := m.exportedName(m.current, f.Name); has {
					out = append(out, exported)
				}
				break
			}
		}
	}
	return out
}

// Apply runs every queued action in order against a fresh unused/metadata
// pair (grounded on MetadataModification._apply).
func (m *MetadataModification) Apply() (unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
	unused = make(map[string]map[string]bool)
	metadata = make(map[string]map[string]interface{})
	for _, action := range m.actions {
		action(unused, metadata)
	}
	return unused, metadata
}

// Param begins a selection over one or more glob parameter-name patterns
// (fnmatch.translate's Go equivalent, path.Match).
func (m *MetadataModification) Param(patterns ...string) *Selector {
	return &Selector{m: m, patterns: patterns}
}

// Selector is the parameter half of a two-level metadata edit selection.
type Selector struct {
	m        *MetadataModification
	patterns []string
}

// Item completes the selection with the metadata item name (e.g.
// "prefix", "suffix", "seg_directory") the queued action will touch.
func (s *Selector) Item(item string) *ItemSelector {
	return &ItemSelector{sel: s, item: item}
}

// ItemSelector is a fully bound (parameters, item) selection ready to
// accept one edit.
type ItemSelector struct {
	sel  *Selector
	item string
}

// Set assigns value to item on every matched parameter's metadata
// (grounded on MetadataModification._apply_set).
func (is *ItemSelector) Set(value interface{}) {
	patterns, item, executable := is.sel.patterns, is.item, is.sel.m.current
	is.sel.m.actions = append(is.sel.m.actions, func(unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
		for _, p := range matchWithExecutable(is.sel.m, executable, patterns) {
			if metadata[p] == nil {
				metadata[p] = make(map[string]interface{})
			}
			metadata[p][item] = value
		}
	})
}

// Unused marks item as excluded from path generation for every matched
// parameter (grounded on MetadataModification._apply_unused).
func (is *ItemSelector) Unused(value bool) {
	patterns, item, executable := is.sel.patterns, is.item, is.sel.m.current
	is.sel.m.actions = append(is.sel.m.actions, func(unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
		for _, p := range matchWithExecutable(is.sel.m, executable, patterns) {
			if unused[p] == nil {
				unused[p] = make(map[string]bool)
			}
			unused[p][item] = value
		}
	})
}

// Append appends value to item's current metadata value, separated by sep
// (grounded on MetadataModification._apply_append).
func (is *ItemSelector) Append(value, sep string) {
	patterns, item, executable := is.sel.patterns, is.item, is.sel.m.current
	is.sel.m.actions = append(is.sel.m.actions, func(unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
		for _, p := range matchWithExecutable(is.sel.m, executable, patterns) {
			if metadata[p] == nil {
				metadata[p] = make(map[string]interface{})
			}
			if v, ok := metadata[p][item]; ok {
				if s, ok := v.(string); ok && s != "" {
					metadata[p][item] = s + sep + value
					continue
				}
			}
			metadata[p][item] = value
		}
	})
}

// Prepend prepends value to item's current metadata value, separated by
// sep (grounded on MetadataModification._apply_prepend).
func (is *ItemSelector) Prepend(value, sep string) {
	patterns, item, executable := is.sel.patterns, is.item, is.sel.m.current
	is.sel.m.actions = append(is.sel.m.actions, func(unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
		for _, p := range matchWithExecutable(is.sel.m, executable, patterns) {
			if metadata[p] == nil {
				metadata[p] = make(map[string]interface{})
			}
			if v, ok := metadata[p][item]; ok {
				if s, ok := v.(string); ok && s != "" {
					metadata[p][item] = value + sep + s
					continue
				}
			}
			metadata[p][item] = value
		}
	})
}

// matchWithExecutable resolves patterns against the executable that was
// current when the action was queued, not whatever is current when Apply
// eventually runs.
func matchWithExecutable(m *MetadataModification, executable graph.NodeKind, patterns []string) []string {
	prev := m.current
	m.current = executable
	out := m.matchingParameters(patterns)
	m.current = prev
	return out
}

// ResolveProcessSchema finds every modifier registered for schema across
// executable's reachable job nodes, runs them in order, and returns the
// combined unused/metadata maps (grounded on resolve_process_schema).
func ResolveProcessSchema(schema string, executable graph.NodeKind) (unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
	m := NewMetadataModification(executable)
	findModifiers(m, schema, executable)
	return m.Apply()
}

// findModifiers mirrors _find_metadata_modification: for a pipeline it
// only descends into direct job children (not into nested pipelines), then
// checks the current node itself for a registered modifier.
func findModifiers(m *MetadataModification, schema string, executable graph.NodeKind) {
	if pipelineNode, ok := executable.(interface{ Nodes() []graph.NodeKind }); ok {
		for _, child := range pipelineNode.Nodes() {
			if child.IsJob() && child != executable {
				findModifiers(m, schema, child)
			}
		}
	}
	if modifier, ok := FindProcessSchema(schema, executable.Definition()); ok {
		m.current = executable
		modifier(m)
	}
}

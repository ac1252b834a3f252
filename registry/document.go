package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/capsul-go/capsul/graph"
	"github.com/capsul-go/capsul/iteration"
	"github.com/capsul-go/capsul/pipeline"
)

var docValidator = validator.New()

// Document is one pipeline-definition JSON object (spec.md §6): "one
// object with type, definition, parameters, uuid".
type Document struct {
	Type       string                  `json:"type" validate:"required,oneof=process pipeline custom_pipeline iterative_process"`
	Definition json.RawMessage         `json:"definition" validate:"required"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	UUID       string                  `json:"uuid,omitempty"`
}

// Validate checks doc's struct tags (spec.md §6's type enum and required
// fields), the Go analogue of the teacher's schema.json validation step.
func (doc *Document) Validate() error {
	return docValidator.Struct(doc)
}

// customPipelineDefinition is the nested object spec.md §6 describes for
// type == "custom_pipeline".
type customPipelineDefinition struct {
	Executables      map[string]json.RawMessage `json:"executables"`
	Links            []Link                     `json:"links"`
	WeakLinks        []Link                     `json:"weak_links"`
	ExportParameters bool                       `json:"export_parameters"`
}

// iterativeProcessDefinition is the nested object spec.md §6 describes for
// type == "iterative_process".
type iterativeProcessDefinition struct {
	Process             json.RawMessage `json:"process"`
	IterativeParameters []string        `json:"iterative_parameters"`
	ContextName         string          `json:"context_name"`
}

// Load resolves doc against reg into a graph.NodeKind, recursing into
// nested custom_pipeline executables and the wrapped process of an
// iterative_process (spec.md §6, §9).
func Load(reg *Registry, doc *Document, name string) (graph.NodeKind, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("registry: invalid document for %q: %w", name, err)
	}

	var (
		node graph.NodeKind
		err  error
	)
	switch doc.Type {
	case "process", "pipeline":
		node, err = loadRegistered(reg, doc, name)
	case "custom_pipeline":
		node, err = loadCustomPipeline(reg, doc, name)
	case "iterative_process":
		node, err = loadIterativeProcess(reg, doc, name)
	default:
		return nil, fmt.Errorf("registry: unknown document type %q", doc.Type)
	}
	if err != nil {
		return nil, err
	}

	for param, value := range doc.Parameters {
		node.Base().Fields.Set(param, value)
	}
	return node, nil
}

func loadRegistered(reg *Registry, doc *Document, name string) (graph.NodeKind, error) {
	var definition string
	if err := json.Unmarshal(doc.Definition, &definition); err != nil {
		return nil, fmt.Errorf("registry: %q definition must be a string: %w", doc.Type, err)
	}
	return reg.New(name, definition)
}

func loadCustomPipeline(reg *Registry, doc *Document, name string) (graph.NodeKind, error) {
	var cp customPipelineDefinition
	if err := json.Unmarshal(doc.Definition, &cp); err != nil {
		return nil, fmt.Errorf("registry: invalid custom_pipeline definition: %w", err)
	}

	pl := pipeline.New(name, "custom_pipeline")

	childNames := make([]string, 0, len(cp.Executables))
	for childName := range cp.Executables {
		childNames = append(childNames, childName)
	}
	sort.Strings(childNames) // deterministic build order regardless of JSON object iteration

	for _, childName := range childNames {
		var childDoc Document
		if err := json.Unmarshal(cp.Executables[childName], &childDoc); err != nil {
			return nil, fmt.Errorf("registry: invalid executable %q: %w", childName, err)
		}
		child, err := Load(reg, &childDoc, childName)
		if err != nil {
			return nil, fmt.Errorf("registry: building executable %q: %w", childName, err)
		}
		if err := pl.AddNode(child); err != nil {
			return nil, err
		}
	}

	if err := wireLinks(pl, cp.Links, false); err != nil {
		return nil, err
	}
	if err := wireLinks(pl, cp.WeakLinks, true); err != nil {
		return nil, err
	}
	if cp.ExportParameters {
		if err := pl.AutoexportNodesParameters(true); err != nil {
			return nil, err
		}
	}

	pl.UpdateActivation()
	return pl, nil
}

func loadIterativeProcess(reg *Registry, doc *Document, name string) (graph.NodeKind, error) {
	var it iterativeProcessDefinition
	if err := json.Unmarshal(doc.Definition, &it); err != nil {
		return nil, fmt.Errorf("registry: invalid iterative_process definition: %w", err)
	}

	var baseDoc Document
	if err := json.Unmarshal(it.Process, &baseDoc); err != nil {
		return nil, fmt.Errorf("registry: invalid iterative_process.process: %w", err)
	}
	base, err := Load(reg, &baseDoc, name+"_base")
	if err != nil {
		return nil, fmt.Errorf("registry: building iterative_process base: %w", err)
	}

	return iteration.New(name, "iterative_process", base, it.IterativeParameters)
}

// wireLinks applies each link's endpoints, exporting through the pipeline
// boundary when one side names no node (spec.md §6: "if exactly one side
// lacks a '.', the other side is exported under that name").
func wireLinks(pl *pipeline.Pipeline, links []Link, weak bool) error {
	for _, link := range links {
		srcNode, srcPlug := splitEndpoint(link.Src)
		dstNode, dstPlug := splitEndpoint(link.Dst)

		switch {
		case srcNode == "" && dstNode == "":
			return fmt.Errorf("registry: link %q->%q has no node on either side", link.Src, link.Dst)
		case srcNode == "":
			if err := pl.ExportParameter(dstNode, dstPlug, srcPlug, false); err != nil {
				return err
			}
		case dstNode == "":
			if err := pl.ExportParameter(srcNode, srcPlug, dstPlug, false); err != nil {
				return err
			}
		default:
			if err := pl.AddLink(srcNode, srcPlug, dstNode, dstPlug, weak); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitEndpoint splits "node.plug" into ("node", "plug"), or ("", "plug")
// for a bare plug name with no node prefix (a pipeline-boundary endpoint).
func splitEndpoint(s string) (node, plug string) {
	i := strings.Index(s, ".")
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}

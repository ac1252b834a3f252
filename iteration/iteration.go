// Package iteration implements ProcessIteration: a wrapper that runs a base
// executable once per element of a set of "iterative" list parameters,
// broadcasting shorter lists and fanning the rest of the parameters through
// unchanged (spec.md §4.2, supplemented from
// process_iteration.ProcessIteration since the distilled spec only
// sketches the behavior).
package iteration

import (
	"fmt"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
)

// ProcessIteration is a transparent fan-out node: it never contributes a
// job itself, the workflow compiler instead asks it for the iteration
// count and then compiles one job per index from the wrapped executable
// (grounded on process_iteration.ProcessIteration, spec.md §4.5).
type ProcessIteration struct {
	*graph.Node

	Base_ graph.NodeKind // the wrapped executable; exported field name avoided to not collide with Base()

	iterative map[string]bool
	regular   map[string]bool
	order     []string // declaration order of both sets combined, for JSON/export determinism
}

// New wraps base, exposing iterativeParameters as list-typed fields on the
// iteration node and every other user field as a plain proxy (grounded on
// ProcessIteration.__init__).
func New(name, definition string, base graph.NodeKind, iterativeParameters []string) (*ProcessIteration, error) {
	it := &ProcessIteration{
		Node:      graph.NewNode(name, definition),
		Base_:     base,
		iterative: make(map[string]bool),
		regular:   make(map[string]bool),
	}
	iterSet := make(map[string]bool, len(iterativeParameters))
	for _, p := range iterativeParameters {
		iterSet[p] = true
	}
	for _, bf := range base.Base().Fields.UserFields() {
		name := bf.Name
		if iterSet[name] {
			if base.Base().Fields.Field(name) == nil {
				return nil, fmt.Errorf("cannot iterate on parameter %q: not a parameter of %s", name, base.Base().Name)
			}
			if err := it.addListProxy(bf); err != nil {
				return nil, err
			}
		} else {
			if err := it.addProxy(bf); err != nil {
				return nil, err
			}
			it.regular[name] = true
		}
		it.order = append(it.order, name)
	}
	for p := range iterSet {
		if !it.iterative[p] {
			return nil, fmt.Errorf("cannot iterate on parameter %q that is not a parameter of %s", p, base.Base().Name)
		}
	}
	return it, nil
}

func (it *ProcessIteration) addListProxy(bf *field.Field) error {
	f := &field.Field{
		Name:     bf.Name,
		Type:     field.ListOf(bf.Type),
		IsOutput: bf.IsOutput,
		Optional: bf.Optional,
		Doc:      bf.Doc,
	}
	if bf.HasDefault() {
		f.Default = []interface{}{bf.Default}
	}
	if _, err := it.AddField(f); err != nil {
		return err
	}
	it.iterative[bf.Name] = true
	return nil
}

func (it *ProcessIteration) addProxy(bf *field.Field) error {
	f := &field.Field{
		Name:     bf.Name,
		Type:     bf.Type,
		Default:  bf.Default,
		IsOutput: bf.IsOutput,
		Optional: bf.Optional,
		Doc:      bf.Doc,
	}
	_, err := it.AddField(f)
	return err
}

// Base implements graph.NodeKind.
func (it *ProcessIteration) Base() *graph.Node { return it.Node }

// IsJob implements graph.NodeKind: iteration expands to N jobs of the
// wrapped executable, it never contributes one of its own.
func (it *ProcessIteration) IsJob() bool { return false }

// IterativeParameters returns the names currently treated as list
// parameters, in declaration order.
func (it *ProcessIteration) IterativeParameters() []string {
	return it.filterOrder(it.iterative)
}

// RegularParameters returns the names passed through unchanged, in
// declaration order.
func (it *ProcessIteration) RegularParameters() []string {
	return it.filterOrder(it.regular)
}

func (it *ProcessIteration) filterOrder(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, name := range it.order {
		if set[name] {
			out = append(out, name)
		}
	}
	return out
}

// ChangeIterativePlug switches a parameter between iterative and regular.
// iterative == nil toggles the current state (grounded on
// ProcessIteration.change_iterative_plug).
func (it *ProcessIteration) ChangeIterativePlug(parameter string, iterative *bool) error {
	bf := it.Base_.Base().Fields.Field(parameter)
	if bf == nil {
		return fmt.Errorf("cannot iterate on parameter %q that is not a parameter of %s", parameter, it.Base_.Base().Name)
	}
	isIterative := it.iterative[parameter]
	want := !isIterative
	if iterative != nil {
		want = *iterative
	}
	if want == isIterative {
		return nil
	}
	it.Fields.RemoveField(parameter)
	delete(it.Plugs, parameter)
	if want {
		delete(it.regular, parameter)
		if err := it.addListProxy(bf); err != nil {
			return err
		}
	} else {
		delete(it.iterative, parameter)
		if err := it.addProxy(bf); err != nil {
			return err
		}
		it.regular[parameter] = true
	}
	return nil
}

// IterationSize returns the number of iterations implied by the current
// iterative parameter values: every non-empty, non-undefined list must
// share one size, except size-1 lists which broadcast to the common size
// (grounded on ProcessIteration.iteration_size). A zero size with a nil
// error means no iterative parameter currently has a value.
func (it *ProcessIteration) IterationSize() (int, error) {
	size := -1
	mismatches := make(map[string]int)
	for _, name := range it.IterativeParameters() {
		v, ok := it.Fields.Get(name)
		if !ok {
			continue
		}
		list, isList := v.([]interface{})
		if !isList || len(list) == 0 {
			continue
		}
		mismatches[name] = len(list)
		if size == -1 {
			size = len(list)
			continue
		}
		if size == len(list) {
			continue
		}
		if size == 1 || len(list) == 1 {
			if len(list) > size {
				size = len(list)
			}
			continue
		}
		return 0, fmt.Errorf("iterative parameter values must be lists of the same size: %v", mismatches)
	}
	if size == -1 {
		return 0, nil
	}
	return size, nil
}

// SelectIterationIndex pushes this iteration index's values onto the
// wrapped executable: every regular parameter copies through unchanged,
// every iterative parameter takes its index-th element (or the last
// element, if the list is shorter than the index, per the broadcast rule)
// (grounded on ProcessIteration.select_iteration_index).
func (it *ProcessIteration) SelectIterationIndex(index int) {
	if delayer, ok := it.Base_.(graph.ActivationDelayer); ok {
		delayer.DelayActivation()
		defer delayer.RestoreActivation()
	}
	baseFields := it.Base_.Base().Fields
	for _, name := range it.RegularParameters() {
		baseFields.Set(name, it.Fields.GetOr(name))
	}
	for _, name := range it.IterativeParameters() {
		v := it.Fields.GetOr(name)
		list, isList := v.([]interface{})
		if !isList || len(list) == 0 {
			baseFields.Set(name, field.Undefined)
			continue
		}
		if index < len(list) {
			baseFields.Set(name, list[index])
		} else {
			baseFields.Set(name, list[len(list)-1])
		}
	}
}

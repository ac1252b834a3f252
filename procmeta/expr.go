package procmeta

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// exprEvaluator compiles and caches CEL programs used by SetExpr, the same
// compile-once-cache-by-source shape as the teacher's condition.Evaluator.
type exprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

var defaultExprEvaluator = &exprEvaluator{cache: make(map[string]cel.Program)}

func (e *exprEvaluator) eval(expr string, vars map[string]interface{}) (interface{}, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if !ok {
		var err error
		prg, err = e.compile(expr, vars)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("metadata expression %q: %w", expr, err)
	}
	return out.Value(), nil
}

func (e *exprEvaluator) compile(expr string, vars map[string]interface{}) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("metadata expression env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("metadata expression %q: %w", expr, issues.Err())
	}
	return env.Program(ast)
}

// SetExpr assigns item to the result of evaluating a CEL expression against
// the metadata gathered so far for the matched parameter, plus "metadata"
// (the full per-parameter metadata map accumulated up to this point) and
// "param" (the parameter name). This is an enrichment over the original's
// plain-value set: a prefix/suffix computed from sibling metadata instead
// of copied verbatim.
func (is *ItemSelector) SetExpr(expr string) {
	patterns, item, executable := is.sel.patterns, is.item, is.sel.m.current
	is.sel.m.actions = append(is.sel.m.actions, func(unused map[string]map[string]bool, metadata map[string]map[string]interface{}) {
		for _, p := range matchWithExecutable(is.sel.m, executable, patterns) {
			vars := map[string]interface{}{
				"metadata": metadata[p],
				"param":    p,
			}
			value, err := defaultExprEvaluator.eval(expr, vars)
			if err != nil {
				continue
			}
			if metadata[p] == nil {
				metadata[p] = make(map[string]interface{})
			}
			metadata[p][item] = value
		}
	})
}

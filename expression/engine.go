package expression

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// maxCachedPrograms caps the compiled program cache. Sensor platforms reuse
// a small set of expression sources; the cache is reset wholesale if it ever
// fills.
const maxCachedPrograms = 256

// Engine compiles expression sources into evaluable programs. Compilation
// results are cached by source text.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEngine creates a new expression engine
func NewEngine() *Engine {
	return &Engine{
		programs: make(map[string]*vm.Program),
	}
}

// Compile parses and compiles an expression source. The logical name
// (value, icon, entity picture, availability, or an attribute key) is carried
// into evaluation errors for human-readable reporting. Reference extraction
// happens here, once, and is never repeated.
func (e *Engine) Compile(name, source string) (*Program, error) {
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, &CompileError{Name: name, Source: source, Err: err}
	}

	refs := extractReferences(tree)

	program, err := e.compiled(source)
	if err != nil {
		return nil, &CompileError{Name: name, Source: source, Err: err}
	}

	return &Program{
		name:    name,
		source:  source,
		refs:    refs,
		program: program,
	}, nil
}

// compiled returns a cached compiled program or compiles and caches a new one
func (e *Engine) compiled(source string) (*vm.Program, error) {
	e.mu.RLock()
	program, found := e.programs[source]
	e.mu.RUnlock()
	if found {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]*vm.Program)
	}
	e.programs[source] = program
	e.mu.Unlock()

	return program, nil
}

// Program is a compiled expression bound to its statically extracted
// reference set. It implements Expr.
type Program struct {
	name    string
	source  string
	refs    References
	program *vm.Program
}

// Source returns the original expression source text
func (p *Program) Source() string {
	return p.source
}

// References returns the statically extracted dependency set
func (p *Program) References() References {
	return p.refs
}

// Evaluate runs the program against the given scope and renders the result
// as a string. A missing upstream key surfaces as *UndefinedReferenceError
// (soft); every other failure surfaces as *EvalError (hard).
func (p *Program) Evaluate(_ context.Context, scope Scope) (string, error) {
	var missing *UndefinedReferenceError

	env := map[string]any{
		"state": func(key string) (any, error) {
			value, ok := scope.Lookup(key)
			if !ok {
				missing = &UndefinedReferenceError{Key: key}
				return nil, missing
			}
			return value, nil
		},
		"is_state": func(key string, want string) (bool, error) {
			value, ok := scope.Lookup(key)
			if !ok {
				missing = &UndefinedReferenceError{Key: key}
				return false, missing
			}
			return renderValue(value) == want, nil
		},
		"states": p.statesEnv(scope),
	}

	out, err := vm.Run(p.program, env)
	if err != nil {
		if missing != nil {
			return "", missing
		}
		return "", &EvalError{Name: p.name, Err: err}
	}

	return renderValue(out), nil
}

// statesEnv materializes the full state map only for unbounded expressions;
// bounded expressions never touch it.
func (p *Program) statesEnv(scope Scope) map[string]any {
	if p.refs.Unbounded {
		return scope.All()
	}
	return map[string]any{}
}

// renderValue renders an evaluation result the way templates do: as a string
func renderValue(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// extractReferences walks the parsed AST and collects the upstream keys the
// expression can read. Any use of the full states map, or a state lookup with
// a non-literal key, makes the set unbounded.
func extractReferences(tree *parser.Tree) References {
	visitor := &refVisitor{keys: make(map[string]struct{})}
	ast.Walk(&tree.Node, visitor)

	if visitor.unbounded {
		return UnboundedReferences()
	}

	keys := make([]string, 0, len(visitor.keys))
	for key := range visitor.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return References{Keys: keys}
}

type refVisitor struct {
	keys      map[string]struct{}
	unbounded bool
}

func (v *refVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if n.Value == "states" {
			v.unbounded = true
		}
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return
		}
		if callee.Value != "state" && callee.Value != "is_state" {
			return
		}
		if len(n.Arguments) == 0 {
			v.unbounded = true
			return
		}
		if key, ok := n.Arguments[0].(*ast.StringNode); ok {
			v.keys[key.Value] = struct{}{}
		} else {
			v.unbounded = true
		}
	}
}

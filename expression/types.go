// Package expression provides boolean/string expression evaluation against
// live upstream state for derived sensors.
//
// It uses the expr-lang/expr library to compile and evaluate user-authored
// expressions. Expressions read upstream values through two forms:
//
//   - state("some.key") - a single upstream value, tracked as a dependency
//   - states            - the full state map, which makes the expression's
//     dependency set unbounded
//
// Reference extraction is a one-time static analysis over the parsed AST;
// expressions whose references cannot be narrowed to a finite key set are
// reported as unbounded.
package expression

import (
	"context"
	"fmt"

	"github.com/c360/sensorkit/errors"
)

// Scope supplies upstream values during evaluation. Evaluation never mutates
// the expression; the scope is passed explicitly on every call.
type Scope interface {
	// Lookup returns the current value for an upstream key.
	Lookup(key string) (any, bool)
	// All returns a snapshot of every upstream value. Only consulted for
	// unbounded expressions.
	All() map[string]any
}

// Expr is a single compiled expression evaluated against live state.
type Expr interface {
	Source() string
	References() References
	Evaluate(ctx context.Context, scope Scope) (string, error)
}

// References is the result of static dependency extraction for one
// expression: either a finite set of upstream keys or unbounded.
type References struct {
	Unbounded bool
	Keys      []string
}

// FiniteReferences builds a bounded reference set
func FiniteReferences(keys ...string) References {
	return References{Keys: keys}
}

// UnboundedReferences marks an expression as referencing all state
func UnboundedReferences() References {
	return References{Unbounded: true}
}

// UndefinedReferenceError reports a referenced upstream key that has no
// current value. This is the soft error class: expected transiently while the
// system is still populating its initial state.
type UndefinedReferenceError struct {
	Key string
}

func (e *UndefinedReferenceError) Error() string {
	return fmt.Sprintf("undefined reference to %q", e.Key)
}

func (e *UndefinedReferenceError) Unwrap() error {
	return errors.ErrUndefinedReference
}

// EvalError reports a hard evaluation failure
type EvalError struct {
	Name string // logical expression name (value, icon, ...)
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %s expression: %v", e.Name, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// CompileError reports a failure to parse or compile an expression source
type CompileError struct {
	Name   string
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s expression %q: %v", e.Name, e.Source, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

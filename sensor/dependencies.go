package sensor

import (
	"log/slog"
	"sort"

	"github.com/c360/sensorkit/expression"
)

// namedExpr pairs an expression with the label used in diagnostics
type namedExpr struct {
	label string
	expr  expression.Expr
}

// exprChain lists the definition's expressions in diagnostic order: the
// fixed fields first, then attributes by name.
func (d *Definition) exprChain() []namedExpr {
	chain := []namedExpr{
		{"value", d.Value},
		{"icon", d.Icon},
		{"entity picture", d.Picture},
		{"availability", d.Availability},
	}

	attrNames := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		attrNames = append(attrNames, name)
	}
	sort.Strings(attrNames)
	for _, name := range attrNames {
		chain = append(chain, namedExpr{name, d.Attributes[name]})
	}
	return chain
}

// ResolveDependencies computes the sensor's subscription key set once, at
// construction. Explicit dependencies bypass extraction entirely. If any
// expression's references cannot be narrowed to a finite key set the whole
// sensor becomes unbounded and a single warning names the offending
// expressions; an unbounded sensor updates only on forced recomputation.
func ResolveDependencies(def *Definition, logger *slog.Logger) expression.References {
	if len(def.ExplicitDependencies) > 0 {
		keys := append([]string(nil), def.ExplicitDependencies...)
		sort.Strings(keys)
		return expression.FiniteReferences(keys...)
	}

	keySet := make(map[string]struct{})
	var unboundedNames []string

	for _, entry := range def.exprChain() {
		if entry.expr == nil {
			continue
		}
		refs := entry.expr.References()
		if refs.Unbounded {
			unboundedNames = append(unboundedNames, entry.label)
			continue
		}
		for _, key := range refs.Keys {
			keySet[key] = struct{}{}
		}
	}

	if len(unboundedNames) > 0 {
		logger.Warn("Sensor references all state, reactive updates disabled",
			"sensor", def.Name,
			"expressions", unboundedNames)
		return expression.UnboundedReferences()
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return expression.FiniteReferences(keys...)
}

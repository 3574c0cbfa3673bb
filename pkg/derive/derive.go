// Package derive builds computed values from expr-lang expressions over
// named signals.
//
//	a := signals.NewSignal(sc, 2)
//	b := signals.NewSignal(sc, 3)
//	sum, err := derive.Expr(sc, "a * b", derive.Env{
//	    "a": derive.From[int](a),
//	    "b": derive.From[int](b),
//	})
//
// Only the inputs the expression actually names become dependencies.
package derive

import (
	"fmt"
	"sort"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/builtin"
	"github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// Input is a dependency with an untyped current value.
type Input interface {
	signals.Dependency
	Current() any
}

// Env maps expression identifiers to inputs.
type Env map[string]Input

// From adapts a typed readable to an Input.
func From[T any](r signals.Readable[T]) Input {
	return readable[T]{r}
}

type readable[T any] struct {
	signals.Readable[T]
}

func (r readable[T]) Current() any {
	return r.Value()
}

// Program is a compiled expression bound to its inputs.
type Program struct {
	expression string
	program    *exprvm.Program
	env        Env
	deps       []string
}

// Compile checks expression against the names in env. Names the
// expression uses that env lacks are a compile error.
func Compile(expression string, env Env) (*Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("derive: expression must not be empty")
	}

	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("derive: parse %q: %w", expression, err)
	}
	refs := &identCollector{seen: map[string]bool{}, local: map[string]bool{}}
	ast.Walk(&tree.Node, refs)

	var deps, unknown []string
	for name := range refs.seen {
		switch {
		case refs.local[name]:
		case env[name] != nil:
			deps = append(deps, name)
		case isBuiltin(name):
		default:
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("derive: compile %q: unknown name %s", expression, unknown[0])
	}
	sort.Strings(deps)

	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("derive: compile %q: %w", expression, err)
	}

	return &Program{expression: expression, program: program, env: env, deps: deps}, nil
}

// Dependencies returns the input names the expression reads, sorted.
func (p *Program) Dependencies() []string {
	out := make([]string, len(p.deps))
	copy(out, p.deps)
	return out
}

// Eval runs the expression against the inputs' current values.
func (p *Program) Eval() (any, error) {
	values := make(map[string]any, len(p.env))
	for name, in := range p.env {
		values[name] = in.Current()
	}
	out, err := exprlang.Run(p.program, values)
	if err != nil {
		return nil, fmt.Errorf("derive: eval %q: %w", p.expression, err)
	}
	return out, nil
}

// Computed returns a computed value re-evaluated whenever a referenced
// input notifies. Runtime errors keep the previous value and are
// reported through sc like any other computed failure.
func (p *Program) Computed(sc *signals.SyncContext) *signals.Computed[any] {
	deps := make([]signals.Dependency, 0, len(p.deps))
	for _, name := range p.deps {
		deps = append(deps, p.env[name])
	}
	return signals.NewComputed(sc, func() any {
		v, err := p.Eval()
		if err != nil {
			panic(err)
		}
		return v
	}, deps...)
}

// Expr compiles expression and returns its computed value.
func Expr(sc *signals.SyncContext, expression string, env Env) (*signals.Computed[any], error) {
	p, err := Compile(expression, env)
	if err != nil {
		return nil, err
	}
	return p.Computed(sc), nil
}

// Publish mirrors a computed value into a synced signal with the given
// id, so the paired context sees it. The returned stop function ends the
// mirroring; the signal stays registered.
func Publish(sc *signals.SyncContext, c *signals.Computed[any], id string) (*signals.Signal[any], func()) {
	s := signals.NewSignal[any](sc, c.Value(), signals.WithID(id))
	stop := c.Subscribe(func(v any) { s.Set(v) })
	return s, stop
}

// identCollector records identifiers and the names bound by let.
type identCollector struct {
	seen  map[string]bool
	local map[string]bool
}

func (c *identCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.seen[n.Value] = true
	case *ast.VariableDeclaratorNode:
		c.local[n.Name] = true
	}
}

func isBuiltin(name string) bool {
	_, ok := builtin.Index[name]
	return ok
}

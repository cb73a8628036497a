package outlet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
)

func init() {
	Register("echoGear", EchoGear)
	Register("uppercase", Uppercase)
	Register("exprGear", ExprGear)
	Register("revalidate", Revalidate)
}

// EchoGear returns {echo: input.msg}. The msg key may be absent, in which
// case echo is null; downstream nodes own their input contract.
func EchoGear(ctx context.Context, input any) (any, error) {
	var msg any
	if m, ok := input.(map[string]any); ok {
		msg = m["msg"]
	}
	return map[string]any{"echo": msg}, nil
}

// Uppercase upper-cases input.msg.
func Uppercase(ctx context.Context, input any) (any, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("uppercase: input must be an object")
	}
	s, ok := m["msg"].(string)
	if !ok {
		return nil, fmt.Errorf("uppercase: input.msg must be a string")
	}
	return map[string]any{"msg": strings.ToUpper(s)}, nil
}

// ExprGear evaluates input.expr as an expr-lang expression with the rest of
// the input object as the environment and returns {result: <value>}.
func ExprGear(ctx context.Context, input any) (any, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("exprGear: input must be an object")
	}
	src, ok := m["expr"].(string)
	if !ok || strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("exprGear: input.expr must be a non-empty string")
	}
	env := make(map[string]any, len(m))
	for k, v := range m {
		if k == "expr" {
			continue
		}
		env[k] = v
	}
	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("exprGear: compile: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("exprGear: run: %w", err)
	}
	return map[string]any{"result": out}, nil
}

// RevalidateFunc invalidates a cached path. The default implementation only
// records the path; deployments plug in their cache layer via SetRevalidator.
type RevalidateFunc func(ctx context.Context, path string) error

var (
	revalidateMu sync.Mutex
	revalidator  RevalidateFunc
	revalidated  []string
)

// SetRevalidator installs the side effect invoked by the revalidate outlet.
func SetRevalidator(fn RevalidateFunc) {
	revalidateMu.Lock()
	defer revalidateMu.Unlock()
	revalidator = fn
}

// RevalidatedPaths returns the paths recorded by the default revalidator.
func RevalidatedPaths() []string {
	revalidateMu.Lock()
	defer revalidateMu.Unlock()
	return append([]string(nil), revalidated...)
}

// Revalidate invalidates the cache entry named by input.path and echoes the
// path back as {revalidated: path}.
func Revalidate(ctx context.Context, input any) (any, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("revalidate: input must be an object")
	}
	path, ok := m["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("revalidate: input.path must be a non-empty string")
	}

	revalidateMu.Lock()
	fn := revalidator
	revalidateMu.Unlock()
	if fn != nil {
		if err := fn(ctx, path); err != nil {
			return nil, fmt.Errorf("revalidate %s: %w", path, err)
		}
	} else {
		revalidateMu.Lock()
		revalidated = append(revalidated, path)
		revalidateMu.Unlock()
	}
	return map[string]any{"revalidated": path}, nil
}

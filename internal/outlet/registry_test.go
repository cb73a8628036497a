package outlet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(ctx context.Context, input any) (any, error) {
		n, _ := input.(float64)
		return n * 2, nil
	})

	fn, err := r.Lookup("double")
	require.NoError(t, err)
	out, err := fn(context.Background(), float64(21))
	require.NoError(t, err)
	require.Equal(t, float64(42), out)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nope")
	var notReg *NotRegisteredError
	require.True(t, errors.As(err, &notReg))
	require.Equal(t, "nope", notReg.Name)
}

func TestRegistry_RegisterOverwritesSilently(t *testing.T) {
	r := NewRegistry()
	r.Register("f", func(ctx context.Context, input any) (any, error) { return "first", nil })
	r.Register("f", func(ctx context.Context, input any) (any, error) { return "second", nil })

	fn, err := r.Lookup("f")
	require.NoError(t, err)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "second", out)
}

func TestDefault_SeededBuiltins(t *testing.T) {
	for _, name := range []string{"echoGear", "revalidate", "uppercase", "exprGear"} {
		_, err := Lookup(name)
		require.NoError(t, err, "builtin %s missing", name)
	}
}

func TestEchoGear(t *testing.T) {
	out, err := EchoGear(context.Background(), map[string]any{"msg": "hi"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echo": "hi"}, out)

	// Absent msg echoes null rather than failing.
	out, err = EchoGear(context.Background(), map[string]any{"echo": "hi"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echo": nil}, out)
}

func TestUppercase(t *testing.T) {
	out, err := Uppercase(context.Background(), map[string]any{"msg": "quiet"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"msg": "QUIET"}, out)

	_, err = Uppercase(context.Background(), "not an object")
	require.Error(t, err)
}

func TestExprGear(t *testing.T) {
	out, err := ExprGear(context.Background(), map[string]any{
		"expr": "a + b",
		"a":    float64(2),
		"b":    float64(3),
	})
	require.NoError(t, err)
	require.Equal(t, float64(5), out.(map[string]any)["result"])

	_, err = ExprGear(context.Background(), map[string]any{"expr": "???"})
	require.Error(t, err)

	_, err = ExprGear(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestRevalidate(t *testing.T) {
	var seen []string
	SetRevalidator(func(ctx context.Context, path string) error {
		seen = append(seen, path)
		return nil
	})
	defer SetRevalidator(nil)

	out, err := Revalidate(context.Background(), map[string]any{"path": "/posts/7"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"revalidated": "/posts/7"}, out)
	require.Equal(t, []string{"/posts/7"}, seen)

	_, err = Revalidate(context.Background(), map[string]any{})
	require.Error(t, err)
}

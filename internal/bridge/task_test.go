package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapScriptQuotesFragment(t *testing.T) {
	text, err := WrapScript("Bridge", 12, `"); Bridge.onResult(1, "pwned`)
	require.NoError(t, err)

	assert.Contains(t, text, "var bridge = Bridge;")
	assert.Contains(t, text, "bridge.onResult(12, out)")
	assert.Contains(t, text, `(0, eval)("\"); Bridge.onResult(1, \"pwned")`)
}

func TestWrapScriptEscapesLineSeparators(t *testing.T) {
	text, err := WrapScript("B", 1, "'a\u2028b\u2029c'")
	require.NoError(t, err)

	assert.False(t, strings.ContainsRune(text, '\u2028'))
	assert.False(t, strings.ContainsRune(text, '\u2029'))
	assert.Contains(t, text, `\u2028`)
}

func TestExecutionSerialization(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"arithmetic", "1+1", "2"},
		{"string", "'hello'", "hello"},
		{"quotes", `'it\'s "quoted"'`, `it's "quoted"`},
		{"undefined", "undefined", ""},
		{"null", "null", ""},
		{"object", "({a: 1, b: [true, null]})", `{"a":1,"b":[true,null]}`},
		{"array", "[1, 'two']", `[1,"two"]`},
		{"boolean", "3 > 2", "true"},
		{"statements", "var x = 20; x + 22", "42"},
		{"line separators", "'a\u2028b'", "a\u2028b"},
		{"function", "(function named() {})", "function named() {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.session.Eval(ctx, tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutionCannotEscapeWrapper(t *testing.T) {
	f := newFixture(t, time.Second)

	// A fragment that tries to close the string and call the bridge itself
	// is just a syntax error inside eval.
	_, err := f.session.Eval(context.Background(), `"); MinkoNativeInterface.onResult(1, "pwned`)
	require.Error(t, err)
	assert.True(t, IsEvaluationError(err))
}

func TestExecutionScriptErrors(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	_, err := f.session.Eval(ctx, "throw new Error('boom')")
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "boom", evalErr.Message)

	_, err = f.session.Eval(ctx, "throw 'plain'")
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "plain", evalErr.Message)

	_, err = f.session.Eval(ctx, "missingFunction()")
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "missingFunction")
}

func TestExecutionSurfaceFailure(t *testing.T) {
	f := newFixture(t, time.Second)

	// Without the bridge global the wrapper itself throws, which the surface
	// reports through the completion callback.
	f.onLoop(t, func() {
		_, err := f.surface.vm.RunString("MinkoNativeInterface = undefined;")
		require.NoError(t, err)
	})

	start := time.Now()
	_, err := f.session.Eval(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, IsEvaluationError(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "must fail fast, not time out")
}

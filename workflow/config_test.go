package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderDefinitionYAML = `
id: order-flow
name: Order Flow
initialState: received
timeout: 30s
states:
  - name: received
    entry: [log-receipt]
  - name: approved
  - name: rejected
    terminal: true
  - name: shipped
    terminal: true
    timeout: 5s
transitions:
  - from: received
    to: approved
    guard: "vars.total != '0'"
    priority: 1
  - from: received
    to: rejected
    guard: always
  - from: approved
    to: shipped
    guard: "event.packed"
    actions: [ship]
`

func testActions() ActionRegistry {
	noop := func(ctx context.Context, ec *Context) error { return nil }

	return ActionRegistry{
		"log-receipt": NewFuncAction("log-receipt", noop),
		"ship":        NewFuncAction("ship", noop),
	}
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	def, err := LoadDefinition([]byte(orderDefinitionYAML), testActions())
	require.NoError(t, err)

	assert.Equal(t, "order-flow", def.ID)
	assert.Equal(t, "received", def.InitialState)
	assert.Len(t, def.States, 4)
	assert.Len(t, def.Transitions, 3)

	received, ok := def.state("received")
	require.True(t, ok)
	assert.Len(t, received.Entry, 1)

	shipped, ok := def.state("shipped")
	require.True(t, ok)
	assert.True(t, shipped.Terminal)
	assert.Equal(t, "5s", shipped.Timeout.String())

	// "always" compiles to a nil guard, which always fires.
	assert.Nil(t, def.Transitions[1].Guard)
	assert.NotNil(t, def.Transitions[0].Guard)
}

func TestLoadDefinitionUnknownAction(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinition([]byte(orderDefinitionYAML), ActionRegistry{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestLoadDefinitionInvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinition([]byte("{not yaml"), testActions())
	require.Error(t, err)
}

func TestLoadDefinitionInvalidDuration(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinition([]byte(`
id: bad
initialState: a
timeout: soon
states:
  - name: a
    terminal: true
`), testActions())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestExpressionGuards(t *testing.T) {
	t.Parallel()

	ec := newContext("exec", "wf", "start", 0, map[string]any{
		"provider": "stripe",
		"ready":    true,
		"total":    0,
	})
	ec.RaiseEvent("packed")

	cases := []struct {
		expr string
		want bool
	}{
		{"vars.provider == 'stripe'", true},
		{"vars.provider == 'paypal'", false},
		{"vars.provider != 'paypal'", true},
		{"vars.missing == 'x'", false},
		{"vars.missing != 'x'", true},
		{"vars.total == '0'", true},
		{"vars.ready", true},
		{"!vars.ready", false},
		{"vars.missing", false},
		{"!vars.missing", true},
		{"event.packed", true},
		{"event.shipped", false},
	}

	for _, tc := range cases {
		got, err := evaluateExpression(tc.expr, ec)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestExpressionGuardErrors(t *testing.T) {
	t.Parallel()

	ec := newContext("exec", "wf", "start", 0, nil)

	_, err := evaluateExpression("total > 5", ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)

	_, err = evaluateExpression("a == b == c", ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidExpression)

	_, err = evaluateExpression("total == '5'", ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedExpression)
}

func TestLoadedDefinitionRunsOnEngine(t *testing.T) {
	t.Parallel()

	def, err := LoadDefinition([]byte(orderDefinitionYAML), testActions())
	require.NoError(t, err)

	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterWorkflow(def))

	// Zero total: the equality guard fails, the always transition
	// rejects the order.
	execID, err := engine.StartWorkflow(context.Background(), "order-flow", map[string]any{"total": 0})
	require.NoError(t, err)

	result := waitForResult(t, engine, execID)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.InDelta(t, 0.5, result.Progress, 0.001)
}

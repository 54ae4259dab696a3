package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportReflectsRegistryState(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	configured := newTestFeature("configured")
	configured.Conf.Settings = map[string]any{"level": 3}

	require.True(t, mgr.Register(ctx, configured))
	require.True(t, mgr.Register(ctx, newTestFeature("enabled")))
	require.NoError(t, mgr.Enable(ctx, "enabled", nil))

	exported := mgr.Export()

	require.Len(t, exported, 2)
	assert.True(t, exported["enabled"].Enabled)
	assert.False(t, exported["configured"].Enabled)
	assert.Equal(t, 3, exported["configured"].Settings["level"])

	// The export is a copy; mutating it does not touch the feature.
	exported["configured"].Settings["level"] = 9
	assert.Equal(t, 3, configured.Conf.Settings["level"])
}

func TestImportRoundTrip(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("on")))
	require.True(t, mgr.Register(ctx, newTestFeature("off")))
	require.NoError(t, mgr.Enable(ctx, "on", nil))
	require.NoError(t, mgr.Enable(ctx, "off", nil))
	require.NoError(t, mgr.Disable(ctx, "off"))

	exported := mgr.Export()

	// A fresh manager with the same features registered re-applies the
	// exported enabled flags without error.
	fresh := newTestManager(t)
	on := newTestFeature("on")
	off := newTestFeature("off")
	require.True(t, fresh.Register(ctx, on))
	require.True(t, fresh.Register(ctx, off))

	require.NoError(t, fresh.Import(ctx, exported))
	assert.Equal(t, StateEnabled, on.State())
	assert.Equal(t, StateDisabled, off.State())
}

func TestImportReportsUnknownIDs(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	err := mgr.Import(context.Background(), map[string]ExportedFeature{
		"ghost": {ID: "ghost", Enabled: true},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRuntime()

	ok, err := r.ImageExists(ctx, "nginx")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.PullImage(ctx, "nginx"))
	ok, _ = r.ImageExists(ctx, "nginx")
	assert.True(t, ok)

	id, err := r.RunContainer(ctx, "web", types.ContainerSpec{Image: "nginx"}, ManagedLabels("demo", "web"))
	require.NoError(t, err)

	list, err := r.ListContainers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)
	assert.True(t, list[0].Managed)
	assert.Equal(t, "demo", list[0].Configuration)

	_, err = r.RunContainer(ctx, "web", types.ContainerSpec{Image: "nginx"}, nil)
	assert.Error(t, err)

	require.NoError(t, r.StopContainer(ctx, id, time.Second))
	require.NoError(t, r.RemoveContainer(ctx, id))
	list, _ = r.ListContainers(ctx)
	assert.Empty(t, list)

	assert.Equal(t, []string{"pull nginx", "run web", "run web", "stop " + id, "remove " + id}, r.Calls())
}

func TestMemoryRuntimeInjectedErrors(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRuntime()
	r.PullErrors["broken"] = errors.New("manifest unknown")

	assert.EqualError(t, r.PullImage(ctx, "broken"), "manifest unknown")

	_, err := r.InspectImage(ctx, "broken")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestMemoryRuntimeGateHonorsContext(t *testing.T) {
	r := NewMemoryRuntime()
	r.Gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.PullImage(ctx, "nginx"), context.Canceled)
}

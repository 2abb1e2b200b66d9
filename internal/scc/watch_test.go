package scc_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/scc"
	"github.com/chmouel/lazyscc/internal/scc/scctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherAutoAddsNewFiles(t *testing.T) {
	fake := scctest.New()
	fake.AutoAdd = true
	dir := t.TempDir()
	cache := scc.NewPackageCache([]string{dir}, nil)
	svc := scc.New(scc.Options{Provider: fake, Workers: 1, Packages: cache})
	require.NoError(t, svc.Init(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	var added []string
	listener := scc.ListenerFunc(func(cmd *scc.Command) {
		if cmd.Type == models.CommandAdd {
			added = append(added, cmd.Files...)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := svc.StartWatcher(ctx, dir, listener)
	require.NoError(t, err)

	pkg := filepath.Join(dir, "Sub", "NewMesh.upk")
	writeFile(t, pkg)

	require.Eventually(t, func() bool {
		svc.Tick()
		return len(added) > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{pkg}, added)
	assert.Equal(t, models.StateAdded, fake.StateOf(pkg))
	_, ok := cache.Lookup("NewMesh")
	assert.True(t, ok)
}

func TestWatcherInvalidatesChangedFiles(t *testing.T) {
	fake := scctest.New()
	dir := t.TempDir()
	a := filepath.Join(dir, "A.txt")
	writeFile(t, a)
	fake.SetState(a, models.StateReadOnly)

	svc := scc.New(scc.Options{Provider: fake, Workers: 1, ProbeInterval: time.Millisecond})
	require.NoError(t, svc.Init(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	require.True(t, svc.ForceGetStatus(context.Background(), []string{a}))
	require.Equal(t, models.StateReadOnly, svc.FileState(a).State)

	_, err := svc.StartWatcher(context.Background(), dir, nil)
	require.NoError(t, err)
	writeFile(t, a)

	require.Eventually(t, func() bool {
		return svc.FileState(a).State == models.StateUnknown
	}, 5*time.Second, 10*time.Millisecond)
}

package fetch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayforge/arrayforge/pkg/workspace"
)

func lockResult(name, commit, sha string) *Result {
	return &Result{
		Pin:    &workspace.Pin{Name: name, Commit: commit},
		Path:   "/store/" + name + "-" + commit,
		SHA256: sha,
	}
}

func TestMergeLockfileKeepsUntouchedPins(t *testing.T) {
	existing := NewLockfile([]*Result{
		lockResult("runtime", "aaa", "sha-runtime"),
		lockResult("compiler", "bbb", "sha-compiler"),
		lockResult("tools", "ccc", "sha-tools"),
	})

	merged := MergeLockfile(existing, []*Result{
		lockResult("compiler", "ddd", "sha-compiler-2"),
	})

	require.Len(t, merged.Archives, 3)

	// Untouched pins survive with their old state.
	runtime := merged.Entry("runtime")
	require.NotNil(t, runtime)
	assert.Equal(t, "aaa", runtime.Commit)

	tools := merged.Entry("tools")
	require.NotNil(t, tools)
	assert.Equal(t, "ccc", tools.Commit)

	// The fetched pin is replaced in place.
	compiler := merged.Entry("compiler")
	require.NotNil(t, compiler)
	assert.Equal(t, "ddd", compiler.Commit)
	assert.Equal(t, "sha-compiler-2", compiler.SHA256)
	assert.Equal(t, "compiler", merged.Archives[1].Name)
}

func TestMergeLockfileAppendsNewPins(t *testing.T) {
	existing := NewLockfile([]*Result{lockResult("runtime", "aaa", "sha-runtime")})

	merged := MergeLockfile(existing, []*Result{
		lockResult("runtime", "aaa", "sha-runtime"),
		lockResult("compiler", "bbb", "sha-compiler"),
	})

	require.Len(t, merged.Archives, 2)
	assert.Equal(t, "runtime", merged.Archives[0].Name)
	assert.Equal(t, "compiler", merged.Archives[1].Name)
}

func TestMergeLockfileNilExisting(t *testing.T) {
	merged := MergeLockfile(nil, []*Result{lockResult("runtime", "aaa", "sha-runtime")})

	require.Len(t, merged.Archives, 1)
	assert.Equal(t, "runtime", merged.Archives[0].Name)
}

func TestMergeLockfileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.lock")

	require.NoError(t, WriteLockfile(path, NewLockfile([]*Result{
		lockResult("runtime", "aaa", "sha-runtime"),
		lockResult("compiler", "bbb", "sha-compiler"),
	})))

	existing, err := ReadLockfile(path)
	require.NoError(t, err)

	merged := MergeLockfile(existing, []*Result{lockResult("runtime", "fff", "sha-runtime-2")})
	require.NoError(t, WriteLockfile(path, merged))

	got, err := ReadLockfile(path)
	require.NoError(t, err)
	require.Len(t, got.Archives, 2)
	assert.Equal(t, "fff", got.Entry("runtime").Commit)
	assert.Equal(t, "bbb", got.Entry("compiler").Commit)
}

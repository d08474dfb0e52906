package photostore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_IdentityPhotos(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	path, err := store.SaveIdentityPhoto("alice", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alice.jpg"), path)

	data, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestStore_SanitizesNames(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		wantErr    error
		wantFile   string
	}{
		{name: "plain", identifier: "bob", wantFile: "bob.jpg"},
		{name: "path traversal", identifier: "../../etc/passwd", wantFile: ".._.._etc_passwd-" + shortHash("../../etc/passwd") + ".jpg"},
		{name: "backslash", identifier: `a\b`, wantFile: "a_b-" + shortHash(`a\b`) + ".jpg"},
		{name: "empty", identifier: "  ", wantErr: domain.ErrIdentityRequired},
		{name: "dot dot", identifier: "..", wantErr: domain.ErrIdentityRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			store, err := New(root)
			require.NoError(t, err)

			path, err := store.SaveIdentityPhoto(tt.identifier, []byte("x"))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, tt.wantFile), path)
		})
	}
}

func shortHash(s string) string {
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(s)))
}

func TestStore_RewrittenNamesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	slashed, err := store.SaveIdentityPhoto("a/b", []byte("slashed"))
	require.NoError(t, err)
	plain, err := store.SaveIdentityPhoto("a_b", []byte("plain"))
	require.NoError(t, err)

	assert.NotEqual(t, slashed, plain)
	assert.Equal(t, root, filepath.Dir(slashed))

	data, err := store.Read(slashed)
	require.NoError(t, err)
	assert.Equal(t, []byte("slashed"), data, "second registration must not overwrite the first")

	data, err = store.Read(plain)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), data)
}

func TestStore_PendingAndReset(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	pending, err := store.SavePending("job-1", []byte("upload"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "recognition", "job-1.jpg"), pending)

	_, err = store.SaveIdentityPhoto("alice", []byte("a"))
	require.NoError(t, err)
	_, err = store.SaveIdentityPhoto("bob", []byte("b"))
	require.NoError(t, err)

	removed, err := store.Reset()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(pending)
	assert.NoError(t, err, "pending uploads survive a reset")

	require.NoError(t, store.Remove(pending))
	require.NoError(t, store.Remove(pending), "removing twice is fine")
}

package filter

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestBuildFileFilter(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":     "*.log\nbuild/\n",
		"sub/.gitignore": "secret.txt\n",
	})

	tests := []struct {
		name      string
		gitignore bool
		excludes  []string
		path      string
		isDir     bool
		want      bool
	}{
		{"plain file", true, nil, "main.go", false, true},
		{"git dir", false, nil, ".git", true, false},
		{"file in git dir", false, nil, ".git/HEAD", false, false},
		{"ignored by root gitignore", true, nil, "debug.log", false, false},
		{"ignored dir", true, nil, "build", true, false},
		{"scoped ignore", true, nil, "sub/secret.txt", false, false},
		{"scoped ignore does not leak", true, nil, "secret.txt", false, true},
		{"gitignore disabled", false, nil, "debug.log", false, true},
		{"exclude pattern", false, []string{".DS_Store"}, "a/.DS_Store", false, false},
		{"exclude dir pattern", true, []string{"vendor/"}, "vendor", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := BuildFileFilter(root, tt.gitignore, tt.excludes)
			assert.Equal(t, tt.want, f(tt.path, tt.isDir))
		})
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":     "*.tmp\nnode_modules/\n",
		"a.txt":          "a",
		"b.tmp":          "b",
		"dir/c.txt":      "c",
		"node_modules/x": "x",
		".git/config":    "[core]",
		"dir/deep/d.txt": "d",
	})

	var got []string
	err := Walk(root, BuildFileFilter(root, true, nil), func(rel string, info fs.FileInfo) error {
		got = append(got, rel)
		assert.False(t, info.IsDir())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "a.txt", "dir/c.txt", "dir/deep/d.txt"}, got)

	var all []string
	require.NoError(t, Walk(root, nil, func(rel string, _ fs.FileInfo) error {
		all = append(all, rel)
		return nil
	}))
	assert.Len(t, all, 7)
}

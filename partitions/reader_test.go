package partitions

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{Binary, Text} {
		t.Run(enc.String(), func(t *testing.T) {
			for name, parts := range map[string][]*RawPartition{
				"tets":  twoTets(t),
				"lines": twoLines(t),
			} {
				base := filepath.Join(t.TempDir(), name)
				require.NoError(t, Write(base, parts, enc))

				got, err := Detect(0, base, len(parts))
				require.NoError(t, err)
				assert.Equal(t, enc, got)

				for rank, want := range parts {
					p, err := Read(rank, len(parts), base)
					require.NoError(t, err, "%s rank %d", name, rank)
					assert.Equal(t, want, p, "%s rank %d", name, rank)
				}
			}
		})
	}
}

func TestDetectPrefersBinary(t *testing.T) {
	base := filepath.Join(t.TempDir(), "mesh")
	parts := twoTets(t)
	require.NoError(t, WriteText(base, parts))
	require.NoError(t, WriteBinary(base, parts))
	enc, err := Detect(1, base, 2)
	require.NoError(t, err)
	assert.Equal(t, Binary, enc)
}

func TestReadMissingFiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "absent")
	_, err := Read(0, 2, base)
	var fae *FileAccessError
	require.True(t, errors.As(err, &fae), "got %v", err)
	assert.Equal(t, 0, fae.Rank)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// A missing companion file is reported by path
	base = filepath.Join(t.TempDir(), "mesh")
	require.NoError(t, WriteBinary(base, twoTets(t)))
	require.NoError(t, os.Remove(GhostElementPath(base, 2)))
	_, err = Read(1, 2, base)
	require.True(t, errors.As(err, &fae), "got %v", err)
	assert.Equal(t, GhostElementPath(base, 2), fae.Path)
	assert.Equal(t, 1, fae.Rank)

	_, err = Read(2, 2, base)
	assert.Error(t, err)
}

func TestReadOffsetTable(t *testing.T) {
	base := filepath.Join(t.TempDir(), "mesh")
	parts := twoTets(t)
	require.NoError(t, WriteBinary(base, parts))

	headers, offsets, err := ReadOffsetTable(base, 2)
	require.NoError(t, err)
	assert.Equal(t, parts[0].Header, headers[0])
	assert.Equal(t, parts[1].Header, headers[1])
	assert.Equal(t, Offsets{}, offsets[0])
	// Rank 1 starts after rank 0's 5 nodes, 7-int regular block and 7-int ghost block
	assert.Equal(t, Offsets{Node: 5 * 32, Regular: 7 * 4, Ghost: 7 * 4}, offsets[1])

	_, _, err = ReadOffsetTable(base, 3)
	assert.Error(t, err)
}

func requireMismatch(t *testing.T, err error, what string) *FormatMismatchError {
	t.Helper()
	var fme *FormatMismatchError
	require.True(t, errors.As(err, &fme), "want FormatMismatchError, got %v", err)
	assert.Contains(t, fme.What, what)
	return fme
}

func TestBinaryFormatMismatch(t *testing.T) {
	t.Run("partition count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		require.NoError(t, os.Rename(ConfigPath(base, 2), ConfigPath(base, 3)))
		_, err := Read(0, 3, base)
		fme := requireMismatch(t, err, "partition count")
		assert.EqualValues(t, 3, fme.Expected)
		assert.EqualValues(t, 2, fme.Actual)
	})
	t.Run("version", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		b, err := os.ReadFile(ConfigPath(base, 2))
		require.NoError(t, err)
		b[4] = 7
		require.NoError(t, os.WriteFile(ConfigPath(base, 2), b, 0o644))
		_, err = Read(0, 2, base)
		requireMismatch(t, err, "version")
	})
	t.Run("magic", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		b, err := os.ReadFile(ConfigPath(base, 2))
		require.NoError(t, err)
		copy(b, "XXXX")
		require.NoError(t, os.WriteFile(ConfigPath(base, 2), b, 0o644))
		_, err = Read(0, 2, base)
		requireMismatch(t, err, "magic")
	})
	t.Run("truncated node block", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		require.NoError(t, os.Truncate(NodePath(base, 2), 100))
		_, err := Read(0, 2, base)
		fme := requireMismatch(t, err, "block bytes")
		assert.EqualValues(t, 160, fme.Expected)
		assert.EqualValues(t, 100, fme.Actual)
		assert.Equal(t, NodePath(base, 2), fme.Path)
	})
	t.Run("declared element count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		parts := twoTets(t)
		parts[0].Header.RegularElements = 2
		require.NoError(t, WriteBinary(base, parts))
		_, err := Read(0, 2, base)
		fme := requireMismatch(t, err, "element records")
		assert.EqualValues(t, 2, fme.Expected)
		assert.EqualValues(t, 1, fme.Actual)
		// Rank 1 is unaffected
		_, err = Read(1, 2, base)
		assert.NoError(t, err)
	})
	t.Run("overlong element block", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		parts := twoTets(t)
		parts[0].Regular = append(parts[0].Regular, parts[0].Regular[0])
		parts[0].Header.RegularElements = 1
		require.NoError(t, WriteBinary(base, parts))
		_, err := Read(0, 2, base)
		requireMismatch(t, err, "int32 values")
	})
	// patchHeader overwrites field i of rank 0's header in the config file
	patchHeader := func(t *testing.T, base string, i int, v int64) {
		t.Helper()
		path := ConfigPath(base, 2)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		binary.LittleEndian.PutUint64(b[preambleSize+8*i:], uint64(v))
		require.NoError(t, os.WriteFile(path, b, 0o644))
	}
	t.Run("huge node count", func(t *testing.T) {
		for _, n := range []int64{1 << 62, 1 << 36} {
			base := filepath.Join(t.TempDir(), "mesh")
			require.NoError(t, WriteBinary(base, twoTets(t)))
			patchHeader(t, base, 0, n)
			_, err := Read(0, 2, base)
			fme := requireMismatch(t, err, "block bytes")
			assert.Equal(t, NodePath(base, 2), fme.Path)
			assert.EqualValues(t, 9*nodeRecordSize, fme.Actual)
			assert.Greater(t, fme.Expected, fme.Actual)
		}
	})
	t.Run("huge element block", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		patchHeader(t, base, 11, 1<<62)
		_, err := Read(0, 2, base)
		fme := requireMismatch(t, err, "block bytes")
		assert.Equal(t, ElementPath(base, 2), fme.Path)
	})
	t.Run("negative offset", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		patchHeader(t, base, 8, -32)
		_, err := Read(0, 2, base)
		fme := requireMismatch(t, err, "node block offset")
		assert.EqualValues(t, -32, fme.Actual)
	})
	t.Run("truncated config", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteBinary(base, twoTets(t)))
		require.NoError(t, os.Truncate(ConfigPath(base, 2), 40))
		_, err := Read(1, 2, base)
		requireMismatch(t, err, "config file bytes")
	})
}

func TestTextFormatMismatch(t *testing.T) {
	rewrite := func(t *testing.T, base, old, new string) {
		t.Helper()
		path := TextPath(base, 2)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		s := strings.Replace(string(b), old, new, 1)
		require.NotEqual(t, string(b), s)
		require.NoError(t, os.WriteFile(path, []byte(s), 0o644))
	}

	t.Run("version", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "ddcmesh-partitions 1 2", "ddcmesh-partitions 9 2")
		_, err := Read(1, 2, base)
		requireMismatch(t, err, "version")
	})
	t.Run("partition count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "ddcmesh-partitions 1 2", "ddcmesh-partitions 1 4")
		_, err := Read(0, 2, base)
		requireMismatch(t, err, "partition count")
	})
	t.Run("node count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		parts := twoTets(t)
		parts[1].Header.TotalNodes = 3
		require.NoError(t, WriteText(base, parts))
		_, err := Read(1, 2, base)
		fme := requireMismatch(t, err, "node records")
		assert.EqualValues(t, 3, fme.Expected)
		assert.EqualValues(t, 4, fme.Actual)
		_, err = Read(0, 2, base)
		assert.NoError(t, err)
	})
	t.Run("ghost count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		parts := twoTets(t)
		parts[0].Header.GhostElements = 0
		require.NoError(t, WriteText(base, parts))
		_, err := Read(0, 2, base)
		requireMismatch(t, err, "int32 values")
	})
	t.Run("missing section", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "partition 1\n", "partition 5\n")
		_, err := Read(1, 2, base)
		requireMismatch(t, err, "partition section")
	})
	t.Run("malformed node line", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "nodes\n0 ", "nodes\nzero ")
		_, err := Read(0, 2, base)
		fme := requireMismatch(t, err, "node line")
		assert.Contains(t, fme.Detail, "node 0")
		assert.Contains(t, err.Error(), "line ")
	})
	t.Run("element line count", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "elements\n8 0 4 ", "elements\n8 0 5 ")
		_, err := Read(0, 2, base)
		requireMismatch(t, err, "element line")
	})
	t.Run("bad section keyword", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		rewrite(t, base, "partition 0\n", "part 0\n")
		_, err := Read(0, 2, base)
		requireMismatch(t, err, "section keyword")
	})
	t.Run("truncated", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "mesh")
		require.NoError(t, WriteText(base, twoTets(t)))
		path := TextPath(base, 2)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, b[:len(b)-10], 0o644))
		_, err = Read(1, 2, base)
		assert.Error(t, err)
	})
}

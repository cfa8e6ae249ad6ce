package simplifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script standing in for the
// simplifier binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake simplifier needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-simplifier")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	exe := writeScript(t, `echo "[Final] V:10 F:12"`)

	res, err := ExecRunner{}.Run(context.Background(), []string{exe, "-i", "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
	assert.Equal(t, "[Final] V:10 F:12\n", res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	exe := writeScript(t, `printf 'mesh has non-manifold edges' >&2; exit 2`)

	res, err := ExecRunner{}.Run(context.Background(), []string{exe})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.False(t, res.Success())
	assert.Equal(t, "mesh has non-manifold edges", res.Stderr)
}

func TestExecRunner_PassesArgv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "argv.txt")
	exe := writeScript(t, `for a in "$@"; do echo "$a" >> "`+out+`"; done`)

	_, err := ExecRunner{}.Run(context.Background(), []string{exe, "-r", "0.5", "-pb", "1"})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"-r", "0.5", "-pb", "1"}, strings.Fields(string(data)))
}

func TestExecRunner_SpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	res, err := ExecRunner{}.Run(context.Background(), []string{missing})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestExecRunner_NotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	_, err := ExecRunner{}.Run(context.Background(), []string{path})
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestExecRunner_EmptyArgv(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestExecRunner_Timeout(t *testing.T) {
	exe := writeScript(t, `exec sleep 10`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{}.Run(ctx, []string{exe})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestExecRunner_Canceled(t *testing.T) {
	exe := writeScript(t, `exec sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := ExecRunner{}.Run(ctx, []string{exe})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestExecRunner_TruncatesOutput(t *testing.T) {
	exe := writeScript(t, `printf 'abcdefghij' >&2; exit 1`)

	res, err := ExecRunner{MaxOutputBytes: 4}.Run(context.Background(), []string{exe})
	require.NoError(t, err)
	assert.Equal(t, "abcd", res.Stderr)
}

func TestExecRunner_CapBoundsLargeOutput(t *testing.T) {
	// ~1 MiB of stdout against a 1 KiB cap.
	exe := writeScript(t, `head -c 1048576 /dev/zero | tr '\0' 'x'`)

	res, err := ExecRunner{MaxOutputBytes: 1024}.Run(context.Background(), []string{exe})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, strings.Repeat("x", 1024), res.Stdout)
}

func TestCappedBuffer(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		writes []string
		want   string
	}{
		{"no cap", 0, []string{"abc", "def"}, "abcdef"},
		{"under cap", 10, []string{"abc"}, "abc"},
		{"cap spans writes", 4, []string{"ab", "cdef", "gh"}, "abcd"},
		{"drops split rune", 4, []string{"abc€"}, "abc"},
		{"keeps whole rune", 5, []string{"ab€d"}, "ab€"},
		{"drops split two-byte rune", 2, []string{"aé"}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &cappedBuffer{limit: tt.limit}
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, b.String())
		})
	}
}

package compiler

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes a shell script standing in for sing-box.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "sing-box")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestSingBox_Args(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"sing-box", "rule-set", "compile", "adblock.json", "-o", "adblock.srs"},
		SingBox{}.Args("adblock.json", "adblock.srs"))
	assert.Equal(t, "/opt/sb", SingBox{Binary: "/opt/sb"}.Args("a", "b")[0])
}

func TestSingBox_CompileSuccess(t *testing.T) {
	bin := fakeTool(t, `[ "$1 $2" = "rule-set compile" ] || exit 9
[ "$4" = "-o" ] || exit 9
cp "$3" "$5"
echo "noise on stdout"`)

	dir := t.TempDir()
	in := filepath.Join(dir, "adblock.json")
	out := filepath.Join(dir, "adblock.srs")
	require.NoError(t, os.WriteFile(in, []byte(`{"version":3,"rules":[]}`), 0o644))

	require.NoError(t, SingBox{Binary: bin}.Compile(context.Background(), in, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `{"version":3,"rules":[]}`, string(got))
}

func TestSingBox_NonZeroExitCarriesStderr(t *testing.T) {
	bin := fakeTool(t, `echo "decode rule-set: unknown field domain_regexx" >&2
exit 1`)

	err := SingBox{Binary: bin}.Compile(context.Background(), "in.json", "out.srs")
	require.Error(t, err)

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Stderr, "unknown field domain_regexx")
	assert.Equal(t, []string{bin, "rule-set", "compile", "in.json", "-o", "out.srs"}, ee.Args)
	assert.Contains(t, err.Error(), "unknown field domain_regexx")

	var xe *exec.ExitError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, 1, xe.ExitCode())
}

func TestSingBox_MissingBinary(t *testing.T) {
	t.Parallel()

	err := SingBox{Binary: filepath.Join(t.TempDir(), "nope")}.Compile(context.Background(), "a", "b")
	require.Error(t, err)

	var ee *ExitError
	assert.False(t, errors.As(err, &ee))
}

func TestFunc_Adapter(t *testing.T) {
	t.Parallel()

	var gotIn, gotOut string
	var c Compiler = Func(func(ctx context.Context, in, out string) error {
		gotIn, gotOut = in, out
		return nil
	})
	require.NoError(t, c.Compile(context.Background(), "x.json", "x.srs"))
	assert.Equal(t, "x.json", gotIn)
	assert.Equal(t, "x.srs", gotOut)
}

package certsigner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTool writes an executable shell script standing in for the signing
// tool.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cert")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

const writeOutputs = `
crt=""; key=""
while [ $# -gt 0 ]; do
  case "$1" in
    -out-crt) crt="$2"; shift 2 ;;
    -out-key) key="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo "fake cert" > "$crt"
echo "fake key" > "$key"
`

func TestCAWritesOutputs(t *testing.T) {
	signer := New(writeTool(t, writeOutputs), discardLogger())
	dir := t.TempDir()
	crt := filepath.Join(dir, "ca.crt")
	key := filepath.Join(dir, "ca.key")

	require.NoError(t, signer.CA(context.Background(), "mesh", crt, key))
	assert.FileExists(t, crt)
	assert.FileExists(t, key)
}

func TestSignWritesOutputs(t *testing.T) {
	signer := New(writeTool(t, writeOutputs), discardLogger())
	dir := t.TempDir()
	req := SignRequest{
		Name:     "web",
		Networks: "fdc8:d559:29d:1::1/64",
		Groups:   []string{"org_acme", "db"},
		CACrt:    filepath.Join(dir, "ca.crt"),
		CAKey:    filepath.Join(dir, "ca.key"),
		OutCrt:   filepath.Join(dir, "host.crt"),
		OutKey:   filepath.Join(dir, "host.key"),
	}
	require.NoError(t, signer.Sign(context.Background(), req))
	assert.FileExists(t, req.OutCrt)
	assert.FileExists(t, req.OutKey)
}

func TestNonZeroExitCapturesOutput(t *testing.T) {
	signer := New(writeTool(t, "echo 'bad flag' >&2\nexit 1\n"), discardLogger())

	err := signer.CA(context.Background(), "mesh", "/tmp/nope.crt", "/tmp/nope.key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrExternalTool))

	var toolErr *interfaces.ExternalToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Contains(t, toolErr.Output, "bad flag")
}

func TestZeroExitMissingOutputIsFailure(t *testing.T) {
	signer := New(writeTool(t, "exit 0\n"), discardLogger())
	dir := t.TempDir()

	err := signer.CA(context.Background(), "mesh", filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrExternalTool))
}

func TestTimeout(t *testing.T) {
	signer := New(writeTool(t, "sleep 10\n"), discardLogger())
	signer.timeout = 100 * time.Millisecond

	_, err := signer.Print(context.Background(), "/tmp/whatever.crt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrExternalTool))
}

func TestPrintReturnsStdout(t *testing.T) {
	signer := New(writeTool(t, `echo '{"details":{"name":"web"}}'`+"\n"), discardLogger())

	out, err := signer.Print(context.Background(), "/tmp/host.crt")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"name":"web"`)
}

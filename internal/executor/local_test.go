package executor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/testutil"
)

func newTestLocal() *Local {
	return NewLocal(LocalOptions{Shell: "sh"})
}

func TestNewLocal_Defaults(t *testing.T) {
	local := NewLocal(LocalOptions{})
	assert.Equal(t, "bash", local.opts.Shell)
	assert.Equal(t, "sudo", local.opts.SudoBinary)
	assert.Equal(t, defaultPromptTimeout, local.opts.PromptTimeout)
	assert.NotNil(t, local.opts.PasswordPrompt)
}

func TestLocal_RunReturnsStdoutOnly(t *testing.T) {
	out, err := newTestLocal().Run(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", out)
}

func TestLocal_RunFailureCarriesStderr(t *testing.T) {
	_, err := newTestLocal().Run(context.Background(), "echo partial; echo first >&2; echo second >&2; exit 3")

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "first\nsecond\n", string(cmdErr.Stderr))
	assert.Equal(t, "partial\n", string(cmdErr.Stdout))
	assert.Contains(t, err.Error(), "exit=3")
}

func TestLocal_RunMissingShell(t *testing.T) {
	local := NewLocal(LocalOptions{Shell: filepath.Join(t.TempDir(), "nosh")})
	_, err := local.Run(context.Background(), "true")
	require.Error(t, err)

	var cmdErr *CommandError
	assert.False(t, strings.Contains(err.Error(), "exit="))
	assert.NotErrorAs(t, err, &cmdErr)
}

func TestLocal_FileRoundTrip(t *testing.T) {
	local := newTestLocal()
	path := filepath.Join(t.TempDir(), "out.txt")

	require.NoError(t, local.FileWrite(context.Background(), path, []byte("one")))
	require.NoError(t, local.FileWrite(context.Background(), path, []byte("hi")))

	data, err := local.FileRead(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644)&^umaskBits(), info.Mode().Perm())
}

func TestLocal_FileReadMissing(t *testing.T) {
	_, err := newTestLocal().FileRead(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocal_ForwardHTTP(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Method + " " + r.URL.Path))
	}))
	defer api.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(api.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	body, err := newTestLocal().ForwardHTTP(context.Background(), models.TunnelTarget{Host: host, Port: p}, HTTPRequest{Method: "DELETE", Path: "/k"})
	require.NoError(t, err)
	assert.Equal(t, "DELETE /k", body)
}

func TestLocal_ForwardHTTPUnreachable(t *testing.T) {
	_, err := newTestLocal().ForwardHTTP(context.Background(), models.TunnelTarget{Socket: filepath.Join(t.TempDir(), "no.sock")}, HTTPRequest{Path: "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial unix:")
}

func TestLocal_Close(t *testing.T) {
	assert.NoError(t, newTestLocal().Close())
}

// umaskBits returns permission bits the process umask strips from 0644.
func umaskBits() os.FileMode {
	dir, err := os.MkdirTemp("", "umask")
	if err != nil {
		return 0
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "probe")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return 0o644 &^ info.Mode().Perm()
}

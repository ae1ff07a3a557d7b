package ssh

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/infco/internal/testutil"
)

// testOptions returns options that authenticate only with the server's
// client key, isolated from the developer's agent and ~/.ssh.
func testOptions(t *testing.T, srv *testutil.SSHServer) ConnectionOptions {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")
	return ConnectionOptions{
		Host:          srv.Host,
		Port:          srv.Port,
		User:          "deploy",
		Fingerprint:   srv.Fingerprint(),
		IdentityFiles: []string{},
		Signers:       srvSigners(srv),
		Timeout:       5 * time.Second,
	}
}

func connectTest(t *testing.T, srv *testutil.SSHServer) *Session {
	t.Helper()
	session, err := Connect(context.Background(), testOptions(t, srv))
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestConnect_Authenticates(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	session := connectTest(t, srv)
	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, srv.Addr(), session.Addr())

	require.NoError(t, session.Close())
	assert.Equal(t, StateClosed, session.State())
	require.NoError(t, session.Close())

	_, err := session.RunCommand("true")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestConnect_FingerprintMismatchStopsBeforeAuth(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	opts := testOptions(t, srv)
	good := opts.Fingerprint
	// Flip one character of the pinned value.
	last := good[len(good)-1]
	flipped := byte('A')
	if last == 'A' {
		flipped = 'B'
	}
	opts.Fingerprint = good[:len(good)-1] + string(flipped)

	session, err := Connect(context.Background(), opts)
	require.Error(t, err)
	assert.Nil(t, session)

	var mismatch *FingerprintMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, opts.Fingerprint, mismatch.Expected)
	assert.Equal(t, good, mismatch.Actual)
	assert.Equal(t, int64(0), srv.AuthAttempts())
}

func TestConnect_AuthFailure(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	opts := testOptions(t, srv)
	opts.Signers = srvSignersWith(testutil.GenerateSigner(t))

	_, err := Connect(context.Background(), opts)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "deploy", authErr.User)
	assert.Greater(t, srv.AuthAttempts(), int64(0))
}

func TestConnect_NoKeys(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	opts := testOptions(t, srv)
	opts.Signers = nil

	_, err := Connect(context.Background(), opts)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, ErrNoAuthMethods)
}

func TestConnect_Unreachable(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	opts := testOptions(t, srv)
	srv.Close()

	_, err := Connect(context.Background(), opts)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, srv.Addr(), connErr.Addr)
}

func TestConnect_RequiresFingerprint(t *testing.T) {
	_, err := Connect(context.Background(), ConnectionOptions{Host: "h", User: "u"})
	assert.ErrorIs(t, err, ErrMissingFingerprint)

	_, err = Connect(context.Background(), ConnectionOptions{User: "u", Fingerprint: "SHA256:x"})
	assert.ErrorIs(t, err, ErrMissingHost)
}

func TestConnect_KeyFile(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	opts := testOptions(t, srv)
	opts.Signers = nil
	opts.KeyPath = writeClientKey(t, srv)

	session, err := Connect(context.Background(), opts)
	require.NoError(t, err)
	defer session.Close()

	out, err := session.RunCommand("echo key-file")
	require.NoError(t, err)
	assert.Equal(t, "key-file\n", string(out))
}

func TestRunCommand_StdoutOnly(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	out, err := session.RunCommand("echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
}

func TestRunCommand_NonZeroExitCapturesStderr(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	_, err := session.RunCommand("echo partial; echo boom >&2; exit 3")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "boom\n", string(cmdErr.Stderr))
	assert.Equal(t, "partial\n", string(cmdErr.Stdout))
	assert.Contains(t, err.Error(), "exit=3")
}

func TestRunCommand_LargeOutput(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	out, err := session.RunCommand("head -c 100000 /dev/zero")
	require.NoError(t, err)
	assert.Len(t, out, 100000)
}

func TestRunCommand_Sequential(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	for i := 0; i < 5; i++ {
		out, err := session.RunCommand("printf x")
		require.NoError(t, err)
		assert.Equal(t, "x", string(out))
	}
}

func TestFileRoundTrip(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)
	dir := t.TempDir()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("hello sftp\n")},
		{"multi chunk", bytes.Repeat([]byte("0123456789abcdef"), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			require.NoError(t, session.WriteFile(path, tt.data))

			got, err := session.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
		})
	}
}

func TestWriteFile_Truncates(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, session.WriteFile(path, []byte("a much longer first version")))
	require.NoError(t, session.WriteFile(path, []byte("short")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestWriteFile_KeepsExistingMode(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Chmod(path, 0o755))

	require.NoError(t, session.WriteFile(path, []byte("#!/bin/sh\necho hi\n")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestReadFile_Missing(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	_, err := session.ReadFile(filepath.Join(t.TempDir(), "missing"))
	var sftpErr *SftpError
	require.ErrorAs(t, err, &sftpErr)
	assert.Equal(t, "open", sftpErr.Op)
}

func TestSftpFile_ReleaseIdempotent(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	file, err := session.OpenFile(path, os.O_RDONLY)
	require.NoError(t, err)
	require.NoError(t, file.Release())
	require.NoError(t, file.Release())

	_, err = file.ReadAll()
	assert.True(t, errors.Is(err, ErrChannelReleased))
}

func TestFetchFingerprint(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)

	got, err := FetchFingerprint(context.Background(), srv.Host, srv.Port, "anyone", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, srv.Fingerprint(), got)
	assert.True(t, strings.HasPrefix(got, "SHA256:"))
	assert.Equal(t, int64(0), srv.AuthAttempts())

	// The fetched value is accepted verbatim by verification.
	opts := testOptions(t, srv)
	opts.Fingerprint = got
	session, err := Connect(context.Background(), opts)
	require.NoError(t, err)
	_ = session.Close()
}

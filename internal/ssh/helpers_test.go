package ssh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tOgg1/infco/internal/testutil"

	xssh "golang.org/x/crypto/ssh"
)

func srvSigners(srv *testutil.SSHServer) []xssh.Signer {
	return []xssh.Signer{srv.ClientKey}
}

func srvSignersWith(signers ...xssh.Signer) []xssh.Signer {
	return signers
}

func writeClientKey(t *testing.T, srv *testutil.SSHServer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(path, srv.ClientKeyPEM, 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}
	return path
}

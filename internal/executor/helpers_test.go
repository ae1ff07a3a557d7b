package executor

import (
	"github.com/tOgg1/infco/internal/testutil"

	xssh "golang.org/x/crypto/ssh"
)

func srvSigners(srv *testutil.SSHServer) []xssh.Signer {
	return []xssh.Signer{srv.ClientKey}
}

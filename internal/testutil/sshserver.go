package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
)

// SSHServer is an in-process SSH server for tests. It serves exec requests by
// running `sh -c`, the sftp subsystem, and direct-tcpip and
// direct-streamlocal@openssh.com forwarding channels.
type SSHServer struct {
	// Host and Port locate the listener.
	Host string
	Port int

	// HostKey is the server host key.
	HostKey gossh.Signer

	// ClientKey is the only key accepted for public key authentication.
	ClientKey gossh.Signer

	// ClientKeyPEM is ClientKey as an unencrypted OpenSSH private key file.
	ClientKeyPEM []byte

	listener  net.Listener
	authTries atomic.Int64
	openChans atomic.Int64

	mu       sync.Mutex
	inFlight int
	maxExec  int
	wg       sync.WaitGroup
}

// NewSSHServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewSSHServer(t *testing.T) *SSHServer {
	t.Helper()

	hostKey := GenerateSigner(t)
	clientKey, clientPEM := GenerateKeyPEM(t)

	srv := &SSHServer{HostKey: hostKey, ClientKey: clientKey, ClientKeyPEM: clientPEM}

	cfg := &gossh.ServerConfig{
		PublicKeyCallback: func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			srv.authTries.Add(1)
			if bytes.Equal(key.Marshal(), clientKey.PublicKey().Marshal()) {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", conn.User())
		},
	}
	cfg.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ssh server listen: %v", err)
	}
	srv.listener = listener

	host, port, _ := net.SplitHostPort(listener.Addr().String())
	srv.Host = host
	srv.Port, _ = strconv.Atoi(port)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()

	t.Cleanup(srv.Close)
	return srv
}

// GenerateSigner creates a fresh ed25519 signer.
func GenerateSigner(t *testing.T) gossh.Signer {
	t.Helper()
	signer, _ := GenerateKeyPEM(t)
	return signer
}

// GenerateKeyPEM creates a fresh ed25519 key and its OpenSSH PEM encoding.
func GenerateKeyPEM(t *testing.T) (gossh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return signer, pem.EncodeToMemory(block)
}

// Fingerprint returns the SHA256 fingerprint of the host key.
func (s *SSHServer) Fingerprint() string {
	return gossh.FingerprintSHA256(s.HostKey.PublicKey())
}

// Addr returns host:port.
func (s *SSHServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthAttempts counts public key callbacks seen by the server.
func (s *SSHServer) AuthAttempts() int64 {
	return s.authTries.Load()
}

// MaxConcurrentExec is the highest number of exec requests that ran at once.
func (s *SSHServer) MaxConcurrentExec() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxExec
}

// OpenChannels is the number of accepted channels the client has not closed
// yet. A channel counts until the client's close message arrives.
func (s *SSHServer) OpenChannels() int64 {
	return s.openChans.Load()
}

// track counts an accepted channel as open until its request stream ends,
// which happens when the client closes the channel or the connection drops.
func (s *SSHServer) track(in <-chan *gossh.Request) <-chan *gossh.Request {
	s.openChans.Add(1)
	out := make(chan *gossh.Request)
	go func() {
		defer s.openChans.Add(-1)
		defer close(out)
		for req := range in {
			out <- req
		}
	}()
	return out
}

// Close stops accepting connections.
func (s *SSHServer) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *SSHServer) serveConn(netConn net.Conn, cfg *gossh.ServerConfig) {
	defer netConn.Close()

	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, cfg)
	if err != nil {
		return
	}
	defer srvConn.Close()

	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			go s.serveSession(newChan)
		case "direct-tcpip":
			go s.serveDirectTCPIP(newChan)
		case "direct-streamlocal@openssh.com":
			go s.serveStreamLocal(newChan)
		default:
			_ = newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *SSHServer) serveSession(newChan gossh.NewChannel) {
	ch, in, err := newChan.Accept()
	if err != nil {
		return
	}
	reqs := s.track(in)
	defer ch.Close()
	defer func() { go gossh.DiscardRequests(reqs) }()

	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			status := s.runExec(ch, payload.Command)
			_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *SSHServer) runExec(ch gossh.Channel, command string) uint32 {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxExec {
		s.maxExec = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	err := cmd.Run()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return uint32(exitErr.ExitCode())
	}
	return 127
}

// directTCPIPData matches the SSH wire format for direct-tcpip extra data.
type directTCPIPData struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

// streamLocalData matches the wire format for direct-streamlocal@openssh.com.
type streamLocalData struct {
	SocketPath string
	Reserved0  string
	Reserved1  uint32
}

func (s *SSHServer) serveDirectTCPIP(newChan gossh.NewChannel) {
	var data directTCPIPData
	if err := gossh.Unmarshal(newChan.ExtraData(), &data); err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, "invalid payload")
		return
	}
	dest, err := net.Dial("tcp", net.JoinHostPort(data.DestHost, strconv.Itoa(int(data.DestPort))))
	if err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, err.Error())
		return
	}
	s.pipe(newChan, dest)
}

func (s *SSHServer) serveStreamLocal(newChan gossh.NewChannel) {
	var data streamLocalData
	if err := gossh.Unmarshal(newChan.ExtraData(), &data); err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, "invalid payload")
		return
	}
	dest, err := net.Dial("unix", data.SocketPath)
	if err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, err.Error())
		return
	}
	s.pipe(newChan, dest)
}

type halfCloser interface {
	CloseWrite() error
}

// pipe copies both directions and propagates EOF as a half close.
func (s *SSHServer) pipe(newChan gossh.NewChannel, dest net.Conn) {
	defer dest.Close()

	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go gossh.DiscardRequests(s.track(reqs))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(dest, ch)
		if hc, ok := dest.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(ch, dest)
		_ = ch.CloseWrite()
	}()
	wg.Wait()
}

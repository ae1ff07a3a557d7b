package ssh

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/tOgg1/infco/internal/models"
	"golang.org/x/sync/errgroup"

	xssh "golang.org/x/crypto/ssh"
)

// Originator reported in direct-tcpip requests.
const (
	tunnelOriginHost = "localhost"
	tunnelOriginPort = 8080
)

// HTTPRequest is a single request relayed through a tunnel.
type HTTPRequest struct {
	Method string
	Path   string
	Body   []byte
}

// Upstream is the far side of a relay: a byte stream that can be half
// closed and drained to EOF.
type Upstream interface {
	Write(p []byte) (int, error)
	CloseWrite() error
	ReadAll() ([]byte, error)
}

type directTCPIPPayload struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

type streamLocalPayload struct {
	SocketPath string
	Reserved0  string
	Reserved1  uint32
}

// OpenTunnel opens a forwarding channel to a unix socket or host:port on
// the remote side.
func (s *Session) OpenTunnel(target models.TunnelTarget) (*Channel, error) {
	client, err := s.authenticated()
	if err != nil {
		return nil, err
	}

	var (
		kind    string
		payload []byte
	)
	if target.IsSocket() {
		kind = "direct-streamlocal@openssh.com"
		payload = xssh.Marshal(&streamLocalPayload{SocketPath: target.Socket})
	} else {
		kind = "direct-tcpip"
		payload = xssh.Marshal(&directTCPIPPayload{
			DestHost:   target.Host,
			DestPort:   uint32(target.Port),
			OriginHost: tunnelOriginHost,
			OriginPort: tunnelOriginPort,
		})
	}

	ch, reqs, err := client.OpenChannel(kind, payload)
	if err != nil {
		return nil, &ChannelError{Op: "forward", Err: fmt.Errorf("%s: %w", target, err)}
	}
	s.logger.Debug().Str("target", target.String()).Msg("tunnel opened")
	return newChannel(ch, reqs), nil
}

// ForwardHTTP sends one HTTP request to target over a forwarding channel
// and returns the response body.
func (s *Session) ForwardHTTP(ctx context.Context, target models.TunnelTarget, req HTTPRequest) (string, error) {
	ch, err := s.OpenTunnel(target)
	if err != nil {
		return "", err
	}
	defer ch.Release()

	return RelayHTTP(ctx, ch, req)
}

// RelayHTTP issues req from a local HTTP client against a one-shot loopback
// listener and relays the raw exchange through upstream: the full request
// bytes are written, EOF is sent, and the full response is read back and
// handed to the client. It returns the decoded response body.
func RelayHTTP(ctx context.Context, upstream Upstream, req HTTPRequest) (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen for relay: %w", err)
	}
	defer listener.Close()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = listener.Close() })
	defer stop()

	var body string
	g.Go(func() error {
		method := req.Method
		if method == "" {
			method = http.MethodGet
		}
		url := fmt.Sprintf("http://%s%s", listener.Addr(), req.Path)
		httpReq, err := http.NewRequestWithContext(gctx, method, url, bytes.NewReader(req.Body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Close = true

		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("relay request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read relayed response: %w", err)
		}
		body = string(data)
		return nil
	})

	g.Go(func() error {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept relay connection: %w", err)
		}
		defer conn.Close()
		// One connection only.
		_ = listener.Close()

		raw, err := readRequestBytes(conn)
		if err != nil {
			return err
		}
		if _, err := upstream.Write(raw); err != nil {
			return err
		}
		if err := upstream.CloseWrite(); err != nil {
			return err
		}
		resp, err := upstream.ReadAll()
		if err != nil {
			return err
		}
		if _, err := conn.Write(resp); err != nil {
			return fmt.Errorf("write relayed response: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", err
	}
	return body, nil
}

// readRequestBytes captures exactly one request as sent: the header block
// and Content-Length or chunked body, without reading past it.
func readRequestBytes(conn net.Conn) ([]byte, error) {
	var raw bytes.Buffer
	reader := bufio.NewReader(io.TeeReader(conn, &raw))

	req, err := http.ReadRequest(reader)
	if err != nil {
		return nil, fmt.Errorf("read relayed request: %w", err)
	}
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return nil, fmt.Errorf("read relayed request body: %w", err)
	}
	_ = req.Body.Close()

	return raw.Bytes(), nil
}

// ConnUpstream adapts a stream connection (TCP or unix) to Upstream.
type ConnUpstream struct {
	Conn net.Conn
}

func (u ConnUpstream) Write(p []byte) (int, error) {
	n, err := u.Conn.Write(p)
	if err == nil && n != len(p) {
		err = ErrShortWrite
	}
	return n, err
}

// CloseWrite half-closes the connection when supported.
func (u ConnUpstream) CloseWrite() error {
	if hc, ok := u.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// ReadAll reads until EOF.
func (u ConnUpstream) ReadAll() ([]byte, error) {
	return readToEOF(u.Conn)
}

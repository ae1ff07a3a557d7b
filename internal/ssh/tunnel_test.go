package ssh

import (
	"context"
	"errors"
	"io"
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

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, r.Method+" "+r.URL.Path)
		if len(body) > 0 {
			_, _ = io.WriteString(w, " "+string(body))
		}
	})
}

func tcpTarget(t *testing.T, srv *httptest.Server) models.TunnelTarget {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return models.TunnelTarget{Host: host, Port: p}
}

func unixHTTPServer(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "infco")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "api.sock")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	server := &http.Server{Handler: echoHandler()}
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { _ = server.Close() })
	return path
}

func TestForwardHTTP_HostPort(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	api := httptest.NewServer(echoHandler())
	defer api.Close()

	body, err := session.ForwardHTTP(context.Background(), tcpTarget(t, api), HTTPRequest{Method: "GET", Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, "GET /x", body)
}

func TestForwardHTTP_PostBody(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	api := httptest.NewServer(echoHandler())
	defer api.Close()

	body, err := session.ForwardHTTP(context.Background(), tcpTarget(t, api), HTTPRequest{
		Method: "POST",
		Path:   "/items",
		Body:   []byte(`{"name":"a"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, `POST /items {"name":"a"}`, body)
}

func TestForwardHTTP_UnixSocket(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	socket := unixHTTPServer(t)
	body, err := session.ForwardHTTP(context.Background(), models.TunnelTarget{Socket: socket}, HTTPRequest{Path: "/version"})
	require.NoError(t, err)
	assert.Equal(t, "GET /version", body)
}

func TestForwardHTTP_RepeatedOnOneSession(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	api := httptest.NewServer(echoHandler())
	defer api.Close()
	target := tcpTarget(t, api)

	for _, path := range []string{"/a", "/b", "/c"} {
		body, err := session.ForwardHTTP(context.Background(), target, HTTPRequest{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "GET "+path, body)
	}
}

func TestOpenTunnel_Unreachable(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	_, err := session.OpenTunnel(models.TunnelTarget{Socket: filepath.Join(t.TempDir(), "none.sock")})
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "forward", chErr.Op)
}

func TestChannel_ReleaseIdempotent(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	api := httptest.NewServer(echoHandler())
	defer api.Close()

	ch, err := session.OpenTunnel(tcpTarget(t, api))
	require.NoError(t, err)
	require.NoError(t, ch.Release())
	require.NoError(t, ch.Release())

	_, err = ch.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	assert.True(t, errors.Is(err, ErrChannelReleased))
	_, err = ch.ReadAll()
	assert.True(t, errors.Is(err, ErrChannelReleased))
	assert.True(t, errors.Is(ch.CloseWrite(), ErrChannelReleased))
}

func TestChannel_RawExchange(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := testutil.NewSSHServer(t)
	session := connectTest(t, srv)

	api := httptest.NewServer(echoHandler())
	defer api.Close()

	ch, err := session.OpenTunnel(tcpTarget(t, api))
	require.NoError(t, err)
	defer ch.Release()

	_, err = ch.Write([]byte("GET /raw HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWrite())

	resp, err := ch.ReadAll()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 200 OK"))
	assert.True(t, strings.HasSuffix(string(resp), "GET /raw"))
}

func TestRelayHTTP_DirectConn(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	api := httptest.NewServer(echoHandler())
	defer api.Close()

	conn, err := net.Dial("tcp", strings.TrimPrefix(api.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()

	body, err := RelayHTTP(context.Background(), ConnUpstream{Conn: conn}, HTTPRequest{Method: "PUT", Path: "/p", Body: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, "PUT /p v", body)
}

func TestRelayHTTP_UpstreamFailure(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	_, err := RelayHTTP(context.Background(), failingUpstream{}, HTTPRequest{Path: "/"})
	require.Error(t, err)
}

type failingUpstream struct{}

func (failingUpstream) Write(p []byte) (int, error) { return 0, errors.New("broken") }
func (failingUpstream) CloseWrite() error           { return nil }
func (failingUpstream) ReadAll() ([]byte, error)    { return nil, nil }

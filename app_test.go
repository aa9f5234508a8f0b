package pilot

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.Workers = 4
	cfg.QueueCapacity = 4
	cfg.ReadTimeout = Duration(2 * time.Second)
	cfg.IdleTimeout = Duration(2 * time.Second)
	return cfg
}

// startApp serves app on a loopback port until the test ends.
func startApp(t *testing.T, cfg Config, routes func(r *Router)) (*Application, string, context.CancelFunc) {
	t.Helper()
	app := NewApplication(cfg)
	app.Logger = zerolog.Nop()
	app.SilentMode = true
	if routes != nil {
		routes(app.Routes)
	}
	require.NoError(t, app.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- app.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return app, app.Addr().String(), cancel
}

func demoRoutes(r *Router) {
	r.Get("/users/:id", func(req *Request) *Response {
		return NewResponse(StatusOK, []byte(req.Param("id")))
	})
	r.Post("/echo", func(req *Request) *Response {
		return NewResponse(StatusOK, req.Body)
	})
	r.Get("/panic", func(req *Request) *Response {
		panic("handler exploded")
	})
	r.Get("/nil", func(req *Request) *Response {
		return nil
	})
	r.Get("/stream", func(req *Request) *Response {
		return BufferedResponse(bufio.NewReader(strings.NewReader(strings.Repeat("s", 3000))), -1)
	})
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTest(t *testing.T, addr string) *testClient {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.SetDeadline(time.Now().Add(5 * time.Second))
	return &testClient{t: t, conn: c, r: bufio.NewReader(c)}
}

func (tc *testClient) send(raw string) {
	tc.t.Helper()
	_, err := io.WriteString(tc.conn, raw)
	require.NoError(tc.t, err)
}

func (tc *testClient) response(method HttpMethod) *Response {
	tc.t.Helper()
	res, err := DecodeResponse(tc.r, method, DefaultLimits())
	require.NoError(tc.t, err)
	return res
}

func (tc *testClient) assertClosed() {
	tc.t.Helper()
	_, err := tc.r.ReadByte()
	assert.ErrorIs(tc.t, err, io.EOF)
}

func TestServeExactResponseBytes(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)
	tc := dialTest(t, addr)
	tc.send("GET /users/42 HTTP/1.1\r\nHost: x\r\n\r\n")

	want := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n42"
	got := make([]byte, len(want))
	_, err := io.ReadFull(tc.r, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	tc.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = tc.r.ReadByte()
	assert.True(t, isTimeout(err), "connection should stay open with nothing more to read, got %v", err)
}

func TestServeKeepAlive(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)
	tc := dialTest(t, addr)

	tc.send("GET /users/1 HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "1", string(tc.response(Get).Body))

	tc.send("POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n")
	res := tc.response(Post)
	assert.Equal(t, "abcde", string(res.Body))
	assert.Equal(t, "5", res.Headers.Get("Content-Length"))

	tc.send("GET /users/2 HTTP/1.1\r\nHost: x\r\n\r\nGET /users/3 HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "2", string(tc.response(Get).Body))
	assert.Equal(t, "3", string(tc.response(Get).Body))
}

func TestServeConnectionClose(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)

	tc := dialTest(t, addr)
	tc.send("GET /users/1 HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	res := tc.response(Get)
	assert.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	tc.assertClosed()

	tc = dialTest(t, addr)
	tc.send("GET /users/1 HTTP/1.0\r\n\r\n")
	res = tc.response(Get)
	assert.Equal(t, "1", string(res.Body))
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	tc.assertClosed()

	tc = dialTest(t, addr)
	tc.send("GET /users/1 HTTP/1.0\r\nConnection: keep-alive\r\n\r\nGET /users/2 HTTP/1.0\r\n\r\n")
	res = tc.response(Get)
	assert.Equal(t, "keep-alive", res.Headers.Get("Connection"))
	assert.Equal(t, "2", string(tc.response(Get).Body))
	tc.assertClosed()
}

func TestServeProtocolErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 4
	_, addr, _ := startApp(t, cfg, demoRoutes)

	tests := []struct {
		name   string
		raw    string
		status StatusCode
	}{
		{"garbage", "HELLO\r\n\r\n", StatusBadRequest},
		{"missing host", "GET /users/1 HTTP/1.1\r\n\r\n", StatusBadRequest},
		{"conflicting framing", "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 1\r\nTransfer-Encoding: chunked\r\n\r\n", StatusBadRequest},
		{"unknown method", "BREW /pot HTTP/1.1\r\nHost: x\r\n\r\n", StatusNotImplemented},
		{"http/2", "GET / HTTP/2.0\r\nHost: x\r\n\r\n", StatusHTTPVersionNotSupported},
		{"body too large", "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\n", StatusPayloadTooLarge},
		{"gzip coding", "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: gzip\r\n\r\n", StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := dialTest(t, addr)
			tc.send(tt.raw)
			res := tc.response(Get)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, "close", res.Headers.Get("Connection"))
			tc.assertClosed()
		})
	}
}

func TestServeRouting(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)
	tc := dialTest(t, addr)

	tc.send("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	res := tc.response(Get)
	assert.Equal(t, StatusNotFound, res.StatusCode)

	tc.send("DELETE /users/1 HTTP/1.1\r\nHost: x\r\n\r\n")
	res = tc.response(Delete)
	assert.Equal(t, StatusMethodNotAllowed, res.StatusCode)
	assert.Equal(t, "GET, HEAD", res.Headers.Get("Allow"))

	tc.send("OPTIONS /users/1 HTTP/1.1\r\nHost: x\r\n\r\n")
	res = tc.response(Options)
	assert.Equal(t, StatusNoContent, res.StatusCode)
	assert.Equal(t, "GET, HEAD, OPTIONS", res.Headers.Get("Allow"))

	tc.send("HEAD /users/42 HTTP/1.1\r\nHost: x\r\n\r\n")
	res = tc.response(Head)
	assert.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "2", res.Headers.Get("Content-Length"))
	assert.Empty(t, res.Body)

	tc.send("GET /users/caf%C3%A9 HTTP/1.1\r\nHost: x\r\n\r\n")
	res = tc.response(Get)
	assert.Equal(t, "café", string(res.Body))
}

func TestServeHandlerFaults(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)
	tc := dialTest(t, addr)

	tc.send("GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, StatusInternalServerError, tc.response(Get).StatusCode)

	tc.send("GET /nil HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, StatusInternalServerError, tc.response(Get).StatusCode)

	tc.send("GET /users/5 HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "5", string(tc.response(Get).Body))
}

func TestServeStreamedResponse(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), demoRoutes)

	tc := dialTest(t, addr)
	tc.send("GET /stream HTTP/1.1\r\nHost: x\r\n\r\n")
	res := tc.response(Get)
	assert.Equal(t, "chunked", res.Headers.Get("Transfer-Encoding"))
	assert.Len(t, res.Body, 3000)

	tc = dialTest(t, addr)
	tc.send("GET /stream HTTP/1.0\r\n\r\n")
	res = tc.response(Get)
	assert.False(t, res.Headers.Has("Transfer-Encoding"))
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	assert.Len(t, res.Body, 3000)
}

func TestServeRejectsWhenSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 0
	cfg.SubmitTimeout = Duration(50 * time.Millisecond)
	app, addr, _ := startApp(t, cfg, demoRoutes)

	busy := dialTest(t, addr)
	require.Eventually(t, func() bool { return app.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	rejected := dialTest(t, addr)
	res := rejected.response(Get)
	assert.Equal(t, StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	rejected.assertClosed()

	busy.send("GET /users/9 HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "9", string(busy.response(Get).Body))
}

func TestServeDropPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 0
	cfg.SubmitTimeout = Duration(20 * time.Millisecond)
	cfg.RejectPolicy = RejectDrop
	app, addr, _ := startApp(t, cfg, demoRoutes)

	dialTest(t, addr)
	require.Eventually(t, func() bool { return app.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	dropped := dialTest(t, addr)
	dropped.assertClosed()
}

func TestShutdownFinishesInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	_, addr, cancel := startApp(t, testConfig(), func(r *Router) {
		r.Get("/slow", func(req *Request) *Response {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return StringResponse("done")
		})
	})

	idle := dialTest(t, addr)
	idle.send("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	idle.response(Get)

	tc := dialTest(t, addr)
	tc.send("GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	<-started
	cancel()

	res := tc.response(Get)
	assert.Equal(t, "done", string(res.Body))
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	tc.assertClosed()
	idle.assertClosed()
}

func TestListenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	app := NewApplication(cfg)
	assert.Error(t, app.Listen())

	cfg = testConfig()
	cfg.Address = "256.0.0.1:99999"
	app = NewApplication(cfg)
	assert.Error(t, app.Listen())
}

func TestServeClosesAfterTruncatedBody(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), func(r *Router) {
		r.Get("/short", func(req *Request) *Response {
			return BufferedResponse(bufio.NewReader(strings.NewReader("abc")), 10)
		})
		r.Get("/bad-header", func(req *Request) *Response {
			res := StringResponse("x")
			res.Headers = append(res.Headers, Header{"X-Evil", "a\r\nSet-Cookie: x"})
			return res
		})
	})

	tc := dialTest(t, addr)
	tc.send("GET /short HTTP/1.1\r\nHost: x\r\n\r\n")
	wire, err := io.ReadAll(tc.r)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc", string(wire))

	tc = dialTest(t, addr)
	tc.send("GET /bad-header HTTP/1.1\r\nHost: x\r\n\r\n")
	res := tc.response(Get)
	assert.Equal(t, StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	assert.False(t, res.Headers.Has("X-Evil"))
	tc.assertClosed()
}

func TestServeKeepAliveRequestBudget(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveRequests = 2
	_, addr, _ := startApp(t, cfg, demoRoutes)
	tc := dialTest(t, addr)

	tc.send("GET /users/1 HTTP/1.1\r\nHost: x\r\n\r\n")
	res := tc.response(Get)
	assert.Equal(t, "1", string(res.Body))
	assert.False(t, res.Headers.Has("Connection"))

	tc.send("GET /users/2 HTTP/1.1\r\nHost: x\r\n\r\n")
	res = tc.response(Get)
	assert.Equal(t, "2", string(res.Body))
	assert.Equal(t, "close", res.Headers.Get("Connection"))
	tc.assertClosed()
}

func TestServeTimeoutsCloseConnection(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = Duration(150 * time.Millisecond)
	cfg.IdleTimeout = Duration(100 * time.Millisecond)
	app, addr, _ := startApp(t, cfg, demoRoutes)

	idle := dialTest(t, addr)
	idle.send("GET /users/1 HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "1", string(idle.response(Get).Body))
	idle.assertClosed()

	silent := dialTest(t, addr)
	silent.assertClosed()

	require.Eventually(t, func() bool { return app.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeAsteriskOptionsBypassesRoutes(t *testing.T) {
	_, addr, _ := startApp(t, testConfig(), func(r *Router) {
		r.Register("/", nil, HandlerFunc(func(req *Request) *Response {
			return StringResponse("root")
		}))
	})
	tc := dialTest(t, addr)

	tc.send("OPTIONS * HTTP/1.1\r\nHost: x\r\n\r\n")
	res := tc.response(Options)
	assert.Equal(t, StatusNoContent, res.StatusCode)
	assert.Equal(t, allMethodsHeader, res.Headers.Get("Allow"))
	assert.Empty(t, res.Body)

	tc.send("OPTIONS / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "root", string(tc.response(Options).Body))
}

func TestShutdownClosesQueuedConnectionWithoutWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 1
	cfg.ReadTimeout = Duration(5 * time.Second)
	started := make(chan struct{})
	app, addr, cancel := startApp(t, cfg, func(r *Router) {
		r.Get("/slow", func(req *Request) *Response {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return StringResponse("done")
		})
	})

	busy := dialTest(t, addr)
	busy.send("GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	<-started

	queued := dialTest(t, addr)
	require.Eventually(t, func() bool { return app.ActiveConnections() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	res := busy.response(Get)
	assert.Equal(t, "done", string(res.Body))
	assert.Equal(t, "close", res.Headers.Get("Connection"))

	queued.conn.SetReadDeadline(time.Now().Add(time.Second))
	queued.assertClosed()
}

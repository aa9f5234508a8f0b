package pilot

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnState is where a connection is in its lifecycle.
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateIdle
	StateReading
	StateDispatched
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatched:
		return "dispatched"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// conn supervises one accepted connection from handshake to close. It runs
// entirely on the pool worker that picked it up and serves one request at a
// time, in arrival order.
type conn struct {
	id     uuid.UUID
	app    *Application
	stream Stream
	reader *bufio.Reader
	writer *bufio.Writer
	state  atomic.Int32
	served int
	log    zerolog.Logger
}

func newConn(app *Application, nc net.Conn) *conn {
	c := &conn{
		id:     uuid.New(),
		app:    app,
		stream: NewStream(nc, app.TLS, false),
	}
	c.reader = bufio.NewReaderSize(c.stream, BUFFER_SIZE)
	c.writer = bufio.NewWriterSize(c.stream, BUFFER_SIZE)
	c.log = app.Logger.With().
		Str("conn", c.id.String()).
		Str("remote", nc.RemoteAddr().String()).
		Logger()
	return c
}

func (c *conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *conn) setState(s ConnState) { c.state.Store(int32(s)) }

// trace logs connection level detail at info when LogRequestsLevel asks for
// it and at debug otherwise.
func (c *conn) trace() *zerolog.Event {
	if c.app.LogRequestsLevel > 1 {
		return c.log.Info()
	}
	return c.log.Debug()
}

func (c *conn) serve() {
	defer c.close()
	c.trace().Msg("connection dispatched")

	c.setState(StateHandshaking)
	ctx, cancel := context.WithTimeout(context.Background(), c.app.Config.HandshakeTimeout.Std())
	err := c.stream.Handshake(ctx)
	cancel()
	if err != nil {
		c.log.Debug().Err(err).Msg("handshake failed")
		return
	}

	for c.awaitRequest() {
		if !c.exchange() {
			return
		}
	}
}

// awaitRequest waits for the first byte of the next request. It returns
// false when the peer closed, the wait timed out or the server is stopping.
func (c *conn) awaitRequest() bool {
	c.setState(StateIdle)
	timeout := c.app.Config.ReadTimeout.Std()
	if c.served > 0 {
		timeout = c.app.Config.IdleTimeout.Std()
	}
	c.stream.SetReadDeadline(deadline(timeout))
	if c.app.shutdown.Load() {
		return false
	}
	if _, err := c.reader.Peek(1); err != nil {
		switch {
		case err == io.EOF:
			c.trace().Msg("peer closed connection")
		case isTimeout(err):
			c.trace().Msg("idle timeout")
		default:
			c.log.Debug().Err(err).Msg("read failed")
		}
		return false
	}
	return true
}

// exchange reads one request, runs its handler and writes the response.
// It reports whether the connection stays open for another request.
func (c *conn) exchange() bool {
	c.setState(StateReading)
	c.stream.SetReadDeadline(deadline(c.app.Config.ReadTimeout.Std()))
	start := time.Now()

	req, err := DecodeRequest(c.reader, c.app.Config.Limits())
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) && perr.Kind != ErrConnectionClosed {
			c.log.Warn().Err(err).Msg("could not parse request")
			res := StatusResponse(perr.Status())
			res.SetHeader("Connection", "close")
			res.PrepareFraming(HTTP11)
			if werr := c.write(res, false); werr != nil {
				c.log.Debug().Err(werr).Msg("write failed")
			}
			return false
		}
		if err != io.EOF {
			c.log.Debug().Err(err).Msg("read failed")
		}
		return false
	}
	c.served++
	req.IpAddress = c.stream.RemoteAddr().String()
	req.Context = c.app.context()

	c.setState(StateDispatched)
	res := c.dispatch(req)
	defer res.closeStream()
	if err := res.PrepareFraming(req.Version); err != nil {
		c.log.Error().Err(err).Str("path", req.Path).Msg("handler set conflicting framing")
		res = StatusResponse(StatusInternalServerError)
		res.PrepareFraming(req.Version)
	}

	keep := c.keepAlive(req, res)
	if !keep {
		res.SetHeader("Connection", "close")
	} else if req.Version.Minor == 0 {
		res.SetHeader("Connection", "keep-alive")
	}

	err = c.write(res, req.Method == Head)
	var perr *ParseError
	switch {
	case errors.Is(err, ErrBodyTruncated):
		// Part of the message is already on the wire. Flush it and close so
		// the peer sees the truncation.
		c.log.Error().Err(err).Str("path", req.Path).Msg("response body cut short, closing connection")
		c.writer.Flush()
		keep = false
		err = nil
	case errors.As(err, &perr):
		// Refused before the head was written.
		c.log.Error().Err(err).Str("path", req.Path).Msg("handler response rejected by encoder")
		c.writer.Reset(c.stream)
		res = StatusResponse(StatusInternalServerError)
		res.SetHeader("Connection", "close")
		res.PrepareFraming(req.Version)
		err = c.write(res, req.Method == Head)
		keep = false
	}
	if c.app.LogRequestsLevel > 0 {
		c.log.Info().
			Str("method", string(req.Method)).
			Str("path", req.Target).
			Int("status", int(res.StatusCode)).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return keep
}

// dispatch resolves and runs the handler, turning routing failures and
// handler faults into responses.
func (c *conn) dispatch(req *Request) *Response {
	app := c.app
	if req.RawPath == "*" {
		res := NoContentResponse()
		res.SetHeader("Allow", allMethodsHeader)
		res.ApplyCors(app.CorsOrigin, app.CorsHeaders, app.CorsMethods)
		return res
	}
	handler, params, err := app.Routes.Resolve(req.Method, req.RawPath)
	var res *Response
	var notAllowed *MethodNotAllowedError
	switch {
	case err == nil:
		req.Params = params
		res = c.run(handler, req)
	case req.Method == Options && errors.As(err, &notAllowed):
		res = NoContentResponse()
		res.SetHeader("Allow", notAllowed.AllowHeader()+", OPTIONS")
	case errors.As(err, &notAllowed):
		res = StatusResponse(StatusMethodNotAllowed)
		res.SetHeader("Allow", notAllowed.AllowHeader())
	default:
		c.trace().Str("path", req.Path).Msg("no route found")
		res = StatusResponse(StatusNotFound)
	}
	res.ApplyCors(app.CorsOrigin, app.CorsHeaders, app.CorsMethods)
	return res
}

const allMethodsHeader = "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS"

func (c *conn) run(handler Handler, req *Request) (res *Response) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("path", req.Path).Msg("handler panicked, sending 500")
			res = StatusResponse(StatusInternalServerError)
		}
	}()
	res = handler.Handle(req)
	if res == nil {
		c.log.Error().Str("path", req.Path).Msg("handler returned nil, sending 500")
		res = StatusResponse(StatusInternalServerError)
	}
	return res
}

// keepAlive decides whether the connection survives this exchange.
func (c *conn) keepAlive(req *Request, res *Response) bool {
	if !req.KeepAlive() || res.Headers.ContainsToken("Connection", "close") {
		return false
	}
	if !res.Framed() {
		return false
	}
	if max := c.app.Config.KeepAliveRequests; max > 0 && c.served >= max {
		return false
	}
	return !c.app.shutdown.Load()
}

func (c *conn) write(res *Response, omitBody bool) error {
	c.stream.SetWriteDeadline(deadline(c.app.Config.WriteTimeout.Std()))
	if omitBody {
		return encodeResponse(c.writer, res, true)
	}
	return EncodeResponse(c.writer, res)
}

// interruptIdle wakes a connection waiting for its next request so it can
// observe shutdown. Connections in any other state are left alone.
func (c *conn) interruptIdle() {
	if c.State() == StateIdle {
		c.stream.SetReadDeadline(time.Now())
	}
}

func (c *conn) close() {
	c.setState(StateClosing)
	c.stream.Close()
	c.app.conns.Delete(c.id.String())
	c.trace().Int("requests", c.served).Msg("connection closed")
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

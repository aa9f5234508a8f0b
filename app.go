// Package pilot is a standalone HTTP/1.1 server and client engine.
//
// A listener accepts TCP (optionally TLS) connections and submits each one to
// a bounded worker pool. The worker that picks a connection up supervises it
// for its whole life: it drives the TLS handshake, decodes requests with a
// strict codec, resolves them against an ordered route list, runs the
// handler and writes the response, keeping the connection open while both
// sides allow it.
//
// Key Features:
//   - Strict HTTP/1.1 framing (Content-Length or chunked, never both)
//   - Bounded memory per connection through line, header and body limits
//   - Ordered router with captures, wildcards and regular expressions
//   - Admission control: a full pool rejects connections with 503
//   - Graceful shutdown that drains queued and running connections
//   - A client that speaks the same codec
//
// Example usage:
//
//	app := pilot.NewApplication(pilot.DefaultConfig())
//	app.Routes.Get("/users/:id", func(req *pilot.Request) *pilot.Response {
//	    return pilot.StringResponse(req.Param("id"))
//	})
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
package pilot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Application is the HTTP server.
//
// Fields:
//   - Config: listener, pool, timeout and limit settings, read once at start
//   - Routes: the route list; frozen when Serve begins
//   - Logger: structured logger for lifecycle, connection and access logs
//   - TLS: when set, every accepted connection is TLS
//   - CorsOrigin: Access-Control-Allow-Origin value; empty disables CORS headers
//   - CorsHeaders: Access-Control-Allow-Headers value
//   - CorsMethods: Access-Control-Allow-Methods value
//   - SilentMode: when true, suppresses the startup route listing
//   - LogRequestsLevel: request logging verbosity (0=none, 1=access lines, 2=connection detail)
type Application struct {
	Config           Config
	Routes           *Router
	Logger           zerolog.Logger
	TLS              *tls.Config
	CorsOrigin       string
	CorsHeaders      string
	CorsMethods      string
	SilentMode       bool
	LogRequestsLevel int

	listener net.Listener
	pool     *Pool
	conns    *xsync.MapOf[string, *conn]
	ctx      context.Context
	shutdown atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// NewApplication creates an Application from cfg with an empty router and a
// JSON logger on stderr.
func NewApplication(cfg Config) *Application {
	return &Application{
		Config:           cfg,
		Routes:           NewRouter(),
		Logger:           NewLogger(os.Stderr, cfg.LogLevel),
		CorsHeaders:      "*",
		CorsMethods:      "GET, PUT, POST, DELETE, HEAD, PATCH",
		LogRequestsLevel: cfg.LogRequestsLevel,
		conns:            xsync.NewMapOf[string, *conn](),
		done:             make(chan struct{}),
	}
}

// AddRouteGroup mounts rg under prefix on the application's router.
func (a *Application) AddRouteGroup(prefix string, rg *RouteGroup) error {
	return a.Routes.AddRouteGroup(prefix, rg)
}

// Listen validates the configuration, loads certificates when configured and
// binds the listening socket. Serve calls it if it has not been called.
func (a *Application) Listen() error {
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if a.TLS == nil && a.Config.TLS().Enabled() {
		certs, err := a.Config.TLS().LoadCertificates()
		if err != nil {
			return err
		}
		a.TLS = ServerTLSConfig(certs)
	}
	l, err := net.Listen("tcp", a.Config.Address)
	if err != nil {
		return fmt.Errorf("bind %s: %w", a.Config.Address, err)
	}
	a.listener = l
	return nil
}

// Addr is the bound address, or nil before Listen.
func (a *Application) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Start listens, serves and stops on SIGINT or SIGTERM.
func (a *Application) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Shutdown is called,
// and returns once every connection has been drained. It returns an error
// only when the accept loop itself fails.
func (a *Application) Serve(ctx context.Context) error {
	if a.listener == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}
	a.ctx = ctx
	a.Routes.Freeze()

	pool, err := NewPool(a.Config.PoolConfig(), a.Logger)
	if err != nil {
		a.listener.Close()
		return err
	}
	a.pool = pool

	if !a.SilentMode {
		a.Logger.Info().
			Str("address", a.listener.Addr().String()).
			Bool("tls", a.TLS != nil).
			Int("workers", a.Config.Workers).
			Msg("starting pilot server")
		for _, route := range a.Routes.Routes() {
			a.Logger.Info().Str("route", route.String()).Msg("registered route")
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			a.Shutdown()
		case <-a.done:
		}
	}()

	var backoff time.Duration
	for {
		nc, err := a.listener.Accept()
		if err != nil {
			if a.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				<-a.done
				return nil
			}
			if isTimeout(err) {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				a.Logger.Warn().Err(err).Dur("retry", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			a.Logger.Error().Err(err).Msg("accept loop failed, stopping server")
			a.Shutdown()
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		a.admit(nc)
	}
}

// admit hands a new connection to the pool, or turns it away when the pool
// stays full for the submit timeout.
func (a *Application) admit(nc net.Conn) {
	c := newConn(a, nc)
	a.conns.Store(c.id.String(), c)
	err := a.pool.Submit(c.serve)
	if err == nil {
		return
	}
	c.log.Warn().Err(err).Str("policy", string(a.Config.RejectPolicy)).Msg("connection rejected")
	if a.Config.RejectPolicy == RejectRespond && !c.stream.Secure() {
		res := StatusResponse(StatusServiceUnavailable)
		res.SetHeader("Connection", "close")
		res.PrepareFraming(HTTP11)
		c.stream.SetWriteDeadline(time.Now().Add(time.Second))
		EncodeResponse(c.stream, res)
	}
	c.close()
}

// Shutdown stops accepting, wakes idle keep-alive connections so they
// close, lets every queued and running connection finish its current
// request and waits for the workers to exit. Safe to call more than once.
func (a *Application) Shutdown() {
	a.once.Do(func() {
		a.Logger.Info().Msg("stopping pilot server")
		a.shutdown.Store(true)
		if a.listener != nil {
			a.listener.Close()
		}
		a.conns.Range(func(_ string, c *conn) bool {
			c.interruptIdle()
			return true
		})
		if a.pool != nil {
			a.pool.Shutdown()
			if faults := a.pool.Faults(); faults > 0 {
				a.Logger.Warn().Int64("faults", faults).Msg("worker faults during run")
			}
		}
		close(a.done)
	})
}

// ActiveConnections is the number of connections accepted and not yet closed.
func (a *Application) ActiveConnections() int {
	return a.conns.Size()
}

func (a *Application) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// pilot-server runs the pilot HTTP/1.1 server with a few demonstration
// routes, an optional static directory and an optional Postgres health route.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pilot "github.com/jacksonzamorano/pilot-wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pilot-server:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     = flag.String("addr", "", "listen address, e.g. :8080")
		cert     = flag.String("cert", "", "TLS certificate file")
		key      = flag.String("key", "", "TLS key file")
		workers  = flag.Int("workers", 0, "worker count")
		queue    = flag.Int("queue", 0, "connection queue capacity")
		dir      = flag.String("dir", "", "serve files from this directory under /static/")
		conf     = flag.String("conf", "", "JSON configuration file")
		level    = flag.String("log-level", "", "log level (debug, info, warn, error)")
		database = flag.Bool("database", false, "enable /db/now using DATABASE_* environment settings")
		authFile = flag.String("auth", "", "file of \"user password\" lines guarding /private/")
	)
	flag.Parse()

	cfg := pilot.DefaultConfig()
	var err error
	if *conf != "" {
		if cfg, err = pilot.LoadConfigFile(*conf, cfg); err != nil {
			return err
		}
	}
	if cfg, err = pilot.ConfigFromEnvironmentWithFallback(cfg); err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Address = *addr
		case "cert":
			cfg.CertFile = *cert
		case "key":
			cfg.KeyFile = *key
		case "workers":
			cfg.Workers = *workers
		case "queue":
			cfg.QueueCapacity = *queue
		case "log-level":
			cfg.LogLevel = *level
		}
	})

	app := pilot.NewApplication(cfg)
	app.Logger = pilot.NewConsoleLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registerRoutes(app, *dir); err != nil {
		return err
	}
	if *authFile != "" {
		auth, err := pilot.BasicAuthFromFile(*authFile)
		if err != nil {
			return err
		}
		group := pilot.NewRouteGroup(
			pilot.GetRoute("/whoami", func(req *pilot.Request) *pilot.Response {
				return pilot.SuccessStringResponse("authenticated from " + req.IpAddress)
			}),
		).Use(auth.Middleware())
		if err := app.AddRouteGroup("/private", group); err != nil {
			return err
		}
	}
	if *database {
		dbCfg, err := databaseFromEnvironment().poolConfig(cfg.Workers)
		if err != nil {
			return err
		}
		db, err := connectDatabase(ctx, dbCfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := app.Routes.Get("/db/now", databaseNow(db)); err != nil {
			return err
		}
	}

	if err := app.Listen(); err != nil {
		return err
	}
	return app.Serve(ctx)
}

func registerRoutes(app *pilot.Application, dir string) error {
	routes := app.Routes
	if err := routes.Get("/", func(req *pilot.Request) *pilot.Response {
		return pilot.StringResponse("Hello, world!")
	}); err != nil {
		return err
	}
	if err := routes.Get("/users/:id", func(req *pilot.Request) *pilot.Response {
		return pilot.NewResponse(pilot.StatusOK, []byte(req.Param("id")))
	}); err != nil {
		return err
	}
	if err := routes.RegisterRegexp(`/orders/(?P<id>[0-9]+)`, []pilot.HttpMethod{pilot.Get}, pilot.HandlerFunc(func(req *pilot.Request) *pilot.Response {
		return pilot.JsonResponse(map[string]string{"order": req.Param("id")})
	})); err != nil {
		return err
	}
	if err := routes.Post("/echo", func(req *pilot.Request) *pilot.Response {
		res := pilot.NewResponse(pilot.StatusOK, req.Body)
		if ct := req.Header("Content-Type"); ct != "" {
			res.SetHeader("Content-Type", ct)
		}
		return res
	}); err != nil {
		return err
	}
	if err := routes.Register("/home", nil, pilot.Redirect("/")); err != nil {
		return err
	}
	if dir != "" {
		if err := routes.Register("/static/*path", []pilot.HttpMethod{pilot.Get, pilot.Head}, pilot.FileHandler(dir, "path")); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pilot "github.com/jacksonzamorano/pilot-wire"
)

// databaseSettings locate the postgres server behind /db/now. Each field is
// read from its DATABASE_* variable and falls back to a local default.
type databaseSettings struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func databaseFromEnvironment() databaseSettings {
	return databaseSettings{
		Host:     envOr("DATABASE_HOST", "localhost"),
		Port:     envOr("DATABASE_PORT", "5432"),
		User:     envOr("DATABASE_USERNAME", "postgres"),
		Password: os.Getenv("DATABASE_PASSWORD"),
		Name:     envOr("DATABASE_DATABASE", "postgres"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// URL renders the settings as a postgres URL with user, password and
// database name escaped.
func (s databaseSettings) URL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, s.Port),
		Path:   "/" + s.Name,
	}
	if s.Password != "" {
		u.User = url.UserPassword(s.User, s.Password)
	} else {
		u.User = url.User(s.User)
	}
	return u.String()
}

// poolConfig parses the settings into a pgxpool config holding at most
// maxConns connections, one per pool worker.
func (s databaseSettings) poolConfig(maxConns int) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(s.URL())
	if err != nil {
		return nil, fmt.Errorf("parse database settings: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	return cfg, nil
}

// connectDatabase opens a pool and checks it with a ping.
func connectDatabase(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// databaseNow reports the database clock, as a health check that the pool
// can reach the server.
func databaseNow(db *pgxpool.Pool) pilot.HandlerFunc {
	return func(req *pilot.Request) *pilot.Response {
		ctx, cancel := context.WithTimeout(req.Context, 2*time.Second)
		defer cancel()
		var now time.Time
		if err := db.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
			return pilot.ErrorResponse(err)
		}
		return pilot.JsonResponse(map[string]any{
			"status": true,
			"now":    now.UTC().Format(time.RFC3339Nano),
		})
	}
}

package pilot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration is a time.Duration that reads from JSON either as a Go duration
// string ("10s", "250ms") or as a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(b, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// RejectPolicy decides what happens to a connection the pool would not admit.
type RejectPolicy string

const (
	// RejectRespond writes a 503 with Connection: close before closing.
	RejectRespond RejectPolicy = "respond"
	// RejectDrop closes the connection without writing anything.
	RejectDrop RejectPolicy = "drop"
)

// Config holds every knob the server reads at startup. Nothing is
// reconfigured while the server runs.
type Config struct {
	Address           string       `json:"address"`
	Workers           int          `json:"workers"`
	QueueCapacity     int          `json:"queue_capacity"`
	SubmitTimeout     Duration     `json:"submit_timeout"`
	HandshakeTimeout  Duration     `json:"handshake_timeout"`
	ReadTimeout       Duration     `json:"read_timeout"`
	IdleTimeout       Duration     `json:"idle_timeout"`
	WriteTimeout      Duration     `json:"write_timeout"`
	MaxLineBytes      int          `json:"max_line_bytes"`
	MaxHeaderBytes    int          `json:"max_header_bytes"`
	MaxBodyBytes      int64        `json:"max_body_bytes"`
	KeepAliveRequests int          `json:"keep_alive_requests"`
	RejectPolicy      RejectPolicy `json:"reject_policy"`
	CertFile          string       `json:"cert_file"`
	KeyFile           string       `json:"key_file"`
	LogLevel          string       `json:"log_level"`
	LogRequestsLevel  int          `json:"log_requests_level"`
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	limits := DefaultLimits()
	return Config{
		Address:           ":8080",
		Workers:           10,
		QueueCapacity:     100,
		SubmitTimeout:     Duration(time.Second),
		HandshakeTimeout:  Duration(10 * time.Second),
		ReadTimeout:       Duration(10 * time.Second),
		IdleTimeout:       Duration(5 * time.Second),
		WriteTimeout:      Duration(10 * time.Second),
		MaxLineBytes:      limits.MaxLineBytes,
		MaxHeaderBytes:    limits.MaxHeaderBytes,
		MaxBodyBytes:      limits.MaxBodyBytes,
		KeepAliveRequests: 100,
		RejectPolicy:      RejectRespond,
		LogLevel:          "info",
		LogRequestsLevel:  1,
	}
}

// LoadConfigFile overlays the JSON document at path onto cfg. Keys missing
// from the file keep their current value.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnvironmentWithFallback overlays PILOT_* environment variables
// onto fallback. Unset variables keep the fallback value.
func ConfigFromEnvironmentWithFallback(fallback Config) (Config, error) {
	cfg := fallback
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("PILOT_ADDRESS", &cfg.Address)
	num("PILOT_WORKERS", &cfg.Workers)
	num("PILOT_QUEUE_CAPACITY", &cfg.QueueCapacity)
	dur("PILOT_SUBMIT_TIMEOUT", &cfg.SubmitTimeout)
	dur("PILOT_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	dur("PILOT_READ_TIMEOUT", &cfg.ReadTimeout)
	dur("PILOT_IDLE_TIMEOUT", &cfg.IdleTimeout)
	dur("PILOT_WRITE_TIMEOUT", &cfg.WriteTimeout)
	num("PILOT_MAX_LINE_BYTES", &cfg.MaxLineBytes)
	num("PILOT_MAX_HEADER_BYTES", &cfg.MaxHeaderBytes)
	if v := os.Getenv("PILOT_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PILOT_MAX_BODY_BYTES: %w", err))
		} else {
			cfg.MaxBodyBytes = n
		}
	}
	num("PILOT_KEEP_ALIVE_REQUESTS", &cfg.KeepAliveRequests)
	if v := os.Getenv("PILOT_REJECT_POLICY"); v != "" {
		cfg.RejectPolicy = RejectPolicy(v)
	}
	str("PILOT_CERT_FILE", &cfg.CertFile)
	str("PILOT_KEY_FILE", &cfg.KeyFile)
	str("PILOT_LOG_LEVEL", &cfg.LogLevel)
	num("PILOT_LOG_REQUESTS_LEVEL", &cfg.LogRequestsLevel)

	return cfg, errors.Join(errs...)
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must not be negative"))
	}
	if c.MaxLineBytes < 16 {
		errs = append(errs, fmt.Errorf("max_line_bytes must be at least 16"))
	}
	if c.MaxHeaderBytes < 1 {
		errs = append(errs, fmt.Errorf("max_header_bytes must be positive"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must not be negative"))
	}
	if c.KeepAliveRequests < 0 {
		errs = append(errs, fmt.Errorf("keep_alive_requests must not be negative"))
	}
	if c.RejectPolicy != RejectRespond && c.RejectPolicy != RejectDrop {
		errs = append(errs, fmt.Errorf("reject_policy must be %q or %q, got %q", RejectRespond, RejectDrop, c.RejectPolicy))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, fmt.Errorf("cert_file and key_file must be set together"))
	}
	return errors.Join(errs...)
}

// Limits returns the codec limits.
func (c Config) Limits() Limits {
	return Limits{
		MaxLineBytes:   c.MaxLineBytes,
		MaxHeaderBytes: c.MaxHeaderBytes,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
}

// PoolConfig returns the worker pool sizing.
func (c Config) PoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       c.Workers,
		QueueCapacity: c.QueueCapacity,
		SubmitTimeout: c.SubmitTimeout.Std(),
	}
}

// TLS returns the certificate settings.
func (c Config) TLS() TLSConfig {
	return TLSConfig{CertFile: c.CertFile, KeyFile: c.KeyFile}
}

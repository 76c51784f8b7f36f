package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load fills a Config from the process environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := decodeEnv(reflect.ValueOf(&cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// LoadWithDotenv merges the named .env files (".env" by default) into the
// environment and then calls Load. Files that do not exist are ignored and
// variables already exported keep their value.
func LoadWithDotenv(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("dotenv: %w", err)
		}
	}
	return Load()
}

// envField is what the env, envAlt, default and required tags say about a field.
type envField struct {
	keys     []string
	fallback string
	required bool
}

func envFieldOf(tag reflect.StructTag) (envField, bool) {
	key := tag.Get("env")
	if key == "" {
		return envField{}, false
	}
	f := envField{
		keys:     []string{key},
		fallback: tag.Get("default"),
		required: tag.Get("required") == "true",
	}
	if alt := tag.Get("envAlt"); alt != "" {
		f.keys = append(f.keys, alt)
	}
	return f, true
}

func (f envField) name() string { return f.keys[0] }

// lookup returns the first non-empty variable among the field's keys, or the
// default when none is set.
func (f envField) lookup() (string, error) {
	for _, k := range f.keys {
		if v := os.Getenv(k); v != "" {
			return v, nil
		}
	}
	if f.required {
		return "", fmt.Errorf("%s is required but not set", f.name())
	}
	return f.fallback, nil
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// decodeEnv sets every env-tagged field of the struct behind v, nested structs
// included. Bad values are reported together rather than one per run.
func decodeEnv(v reflect.Value) error {
	var errs []error
	for i := range v.NumField() {
		sf, fv := v.Type().Field(i), v.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			errs = append(errs, decodeEnv(fv))
			continue
		}
		spec, ok := envFieldOf(sf.Tag)
		if !ok {
			continue
		}
		raw, err := spec.lookup()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", spec.name(), raw, err))
		}
	}
	return errors.Join(errs...)
}

type parseFunc func(raw string, t reflect.Type) (reflect.Value, error)

func parseInt(raw string, t reflect.Type) (reflect.Value, error) {
	if t == durationType {
		d, err := time.ParseDuration(raw)
		return reflect.ValueOf(d), err
	}
	n, err := strconv.ParseInt(raw, 10, t.Bits())
	return reflect.ValueOf(n).Convert(t), err
}

var parsers = map[reflect.Kind]parseFunc{
	reflect.String: func(raw string, t reflect.Type) (reflect.Value, error) {
		return reflect.ValueOf(raw).Convert(t), nil
	},
	reflect.Int:   parseInt,
	reflect.Int64: parseInt,
	reflect.Float64: func(raw string, t reflect.Type) (reflect.Value, error) {
		f, err := strconv.ParseFloat(raw, t.Bits())
		return reflect.ValueOf(f).Convert(t), err
	},
	reflect.Bool: func(raw string, t reflect.Type) (reflect.Value, error) {
		b, err := strconv.ParseBool(raw)
		return reflect.ValueOf(b).Convert(t), err
	},
	// Comma separated, blanks dropped.
	reflect.Slice: func(raw string, t reflect.Type) (reflect.Value, error) {
		if t.Elem().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("cannot decode into %s", t)
		}
		var items []string
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return reflect.ValueOf(items).Convert(t), nil
	},
}

func assign(field reflect.Value, raw string) error {
	parse, ok := parsers[field.Kind()]
	if !ok {
		return fmt.Errorf("cannot decode into %s", field.Type())
	}
	v, err := parse(raw, field.Type())
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}

// problems collects validation failures so they can be reported in one error.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%d invalid settings: %s", len(p), strings.Join(p, "; "))
}

func oneOf(value string, allowed ...string) bool {
	return slices.Contains(allowed, strings.ToLower(value))
}

func validPort(port int) bool { return port > 0 && port <= 65535 }

var locales = []string{"auto", "ar", "es", "es-ar", "en", "en-us"}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var p problems

	s := c.Server
	p.check(validPort(s.Port), "SERVER_PORT %d is outside 1-65535", s.Port)
	p.check(s.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	p.check(s.RateLimitPerSecond >= 0 && s.RateLimitBurst >= 0, "RATE_LIMIT_PER_SECOND and RATE_LIMIT_BURST cannot be negative")
	p.check(s.MaxUploadBytes > 0, "SERVER_MAX_UPLOAD_BYTES must be positive")

	db := c.Database
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns <= db.MaxConns, "DB_MIN_CONNS %d exceeds DB_MAX_CONNS %d", db.MinConns, db.MaxConns)

	ex := c.Extraction
	p.check(ex.Timeout > 0, "EXTRACTION_TIMEOUT must be positive")
	p.check(ex.MaxConcurrent > 0, "EXTRACTION_MAX_CONCURRENT must be positive")
	p.check(ex.RequestsPerSecond >= 0, "EXTRACTION_REQUESTS_PER_SECOND cannot be negative")
	_, tzErr := time.LoadLocation(ex.TimeZone)
	p.check(tzErr == nil, "EXTRACTION_TIMEZONE %q is not a known time zone", ex.TimeZone)

	switch strings.ToLower(c.Storage.Backend) {
	case "local":
		p.check(c.Storage.LocalDir != "", "STORAGE_LOCAL_DIR is required when STORAGE_BACKEND=local")
	case "gcs":
		p.check(c.Storage.GCSBucket != "", "STORAGE_GCS_BUCKET is required when STORAGE_BACKEND=gcs")
	default:
		p.check(false, "STORAGE_BACKEND %q is neither local nor gcs", c.Storage.Backend)
	}

	rc := c.Reconcile
	for _, tol := range []struct{ key, raw string }{
		{"RECONCILE_PER_ENTRY_TOLERANCE", rc.PerEntryTolerance},
		{"RECONCILE_ABSOLUTE_TOLERANCE", rc.AbsoluteTolerance},
		{"RECONCILE_PERCENT_TOLERANCE", rc.PercentTolerance},
	} {
		d, err := decimal.NewFromString(tol.raw)
		p.check(err == nil && !d.IsNegative(), "%s %q is not a non-negative decimal", tol.key, tol.raw)
	}
	p.check(oneOf(rc.TabularLocale, locales...), "RECONCILE_TABULAR_LOCALE %q is not auto, ar or en", rc.TabularLocale)
	p.check(oneOf(rc.TransferLocale, locales...), "RECONCILE_TRANSFER_LOCALE %q is not auto, ar or en", rc.TransferLocale)

	pv := c.Preview
	p.check(pv.SessionTTL > 0, "PREVIEW_SESSION_TTL must be positive")
	p.check(pv.MaxFileSize > 0, "PREVIEW_MAX_FILE_SIZE must be positive")
	p.check(pv.MaxFiles > 0, "PREVIEW_MAX_FILES must be positive")

	p.check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"), "LOG_LEVEL %q is not debug, info, warn or error", c.Logging.Level)
	p.check(oneOf(c.Logging.Format, "text", "json"), "LOG_FORMAT %q is not text or json", c.Logging.Format)

	p.check(!c.Profiling.Enabled || validPort(c.Profiling.Port), "PPROF_PORT %d is outside 1-65535", c.Profiling.Port)

	return p.err()
}

// Tolerances returns the parsed reconciliation thresholds. Call it after Validate.
func (r ReconcileConfig) Tolerances() (perEntry, absolute, percent decimal.Decimal) {
	perEntry, _ = decimal.NewFromString(r.PerEntryTolerance)
	absolute, _ = decimal.NewFromString(r.AbsoluteTolerance)
	percent, _ = decimal.NewFromString(r.PercentTolerance)
	return perEntry, absolute, percent
}

// String renders the settings worth logging at startup. Credentials never appear.
func (c *Config) String() string {
	fields := []string{
		"listen=" + fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port),
		"db=" + redact(c.Database.DSN()),
		fmt.Sprintf("db_pool=%d..%d", c.Database.MinConns, c.Database.MaxConns),
		"gemini_key=" + redact(c.Extraction.APIKey),
		"model=" + c.Extraction.Model,
		fmt.Sprintf("extract_workers=%d", c.Extraction.MaxConcurrent),
		"storage=" + c.Storage.Backend,
		"session_ttl=" + c.Preview.SessionTTL.String(),
		fmt.Sprintf("max_files=%d", c.Preview.MaxFiles),
		"log=" + c.Logging.Level + "/" + c.Logging.Format,
	}
	return strings.Join(fields, " ")
}

func redact(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "***"
}

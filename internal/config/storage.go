package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/xo/dburl"

	"pulse/internal/storage"
)

// Environment overrides for the storage.db section.
const (
	EnvDBHost     = "PULSE_DB_HOST"
	EnvDBPort     = "PULSE_DB_PORT"
	EnvDBName     = "PULSE_DB_NAME"
	EnvDBUser     = "PULSE_DB_USER"
	EnvDBPassword = "PULSE_DB_PASSWORD"
	EnvDBSSLMode  = "PULSE_DB_SSLMODE"
)

// driverKinds maps database/sql driver names reported by dburl to the
// storage backend registered for them.
var driverKinds = map[string]string{
	"postgres":  "postgres",
	"pgx":       "postgres",
	"sqlite3":   "sqlite",
	"sqlite":    "sqlite",
	"mssql":     "mssql",
	"sqlserver": "mssql",
}

// Resolved is the outcome of ResolveStorage.
type Resolved struct {
	storage.Config

	// Redacted is safe to log.
	Redacted string
}

// ResolveStorage turns the storage section into a backend config.
//
// Precedence: storage.dsn, then storage.db (with PULSE_DB_* overrides), then
// FallbackDSN. A bare path with kind "sqlite" is used as the file name
// unchanged.
func ResolveStorage(s Storage, getenv func(string) string) (Resolved, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	dsn := strings.TrimSpace(os.Expand(s.DSN, getenv))

	if kind == "sqlite" && dsn != "" && !strings.Contains(dsn, ":") {
		return Resolved{Config: storage.Config{Kind: kind, DSN: dsn}, Redacted: dsn}, nil
	}
	if kind == "sqlite" && dsn == ":memory:" {
		return Resolved{Config: storage.Config{Kind: kind, DSN: dsn}, Redacted: dsn}, nil
	}

	if dsn == "" {
		db := withEnv(s.DB, getenv)
		if db.empty() {
			dsn = FallbackDSN
		} else {
			dsn = postgresURL(db)
		}
	}

	u, err := dburl.Parse(dsn)
	if err != nil {
		return Resolved{}, fmt.Errorf("config: parse dsn: %w", err)
	}
	inferred, ok := driverKinds[u.Driver]
	if !ok {
		return Resolved{}, fmt.Errorf("config: unsupported database driver %q", u.Driver)
	}
	if kind == "" {
		kind = inferred
	} else if kind != inferred {
		return Resolved{}, fmt.Errorf("config: storage.kind %q does not match dsn scheme %q", kind, u.OriginalScheme)
	}

	out := storage.Config{Kind: kind, DSN: u.DSN}
	if kind == "postgres" {
		// pgx parses URLs natively, including sslmode and other query options.
		out.DSN = u.URL.String()
	}
	return Resolved{Config: out, Redacted: u.Redacted()}, nil
}

func withEnv(db DB, getenv func(string) string) DB {
	if v := getenv(EnvDBHost); v != "" {
		db.Host = v
	}
	if v := getenv(EnvDBPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			db.Port = n
		}
	}
	if v := getenv(EnvDBName); v != "" {
		db.Name = v
	}
	if v := getenv(EnvDBUser); v != "" {
		db.User = v
	}
	if v := getenv(EnvDBPassword); v != "" {
		db.Password = v
	}
	if v := getenv(EnvDBSSLMode); v != "" {
		db.SSLMode = v
	}
	return db
}

// postgresURL fills gaps in db with the local development defaults.
func postgresURL(db DB) string {
	host, port, name, user, pass := db.Host, db.Port, db.Name, db.User, db.Password
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	if name == "" {
		name = "PhonePayDB"
	}
	if user == "" {
		user = "postgres"
	}
	if pass == "" {
		pass = "admin"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + name,
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	return u.String()
}

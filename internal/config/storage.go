package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// PostgresConnectionString returns the key=value DSN the pgx pool consumes.
// Values that would break the keyword syntax get single-quoted.
func (c *Config) PostgresConnectionString() string {
	pairs := []string{
		"host=" + dsnValue(c.PostgresHost),
		"port=" + strconv.Itoa(c.PostgresPort),
		"user=" + dsnValue(c.PostgresUser),
		"password=" + dsnValue(c.PostgresPassword),
		"dbname=" + dsnValue(c.PostgresDBName),
		"sslmode=" + dsnValue(c.PostgresSSLMode),
	}
	return strings.Join(pairs, " ")
}

// dsnValue quotes v when it contains characters the keyword/value format
// cannot carry bare. Inside quotes, backslash and single quote are escaped.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\=`) {
		return v
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + escaped + "'"
}

// PostgresURL renders the same connection settings as a postgres:// URL,
// which is the form golang-migrate expects. url.UserPassword takes care of
// percent-encoding the credentials.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     c.PostgresHost + ":" + strconv.Itoa(c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL lets a DATABASE_URL environment variable override the
// individual postgres_* settings, the convention most hosting platforms use.
// Components absent from the URL keep their configured values.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL format: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.PostgresHost = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

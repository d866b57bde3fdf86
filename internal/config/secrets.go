package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// Redacted returns a copy of cfg with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c

	out.Postgres.DSN = redactDSN(c.Postgres.DSN)
	redact(&out.Redis.Password)
	redact(&out.Archive.AccessKey)
	redact(&out.Archive.SecretKey)

	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Pairs.Stable = slices.Clone(c.Pairs.Stable)
	out.Pairs.Volatile = slices.Clone(c.Pairs.Volatile)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN keeps the host and database visible and masks the password.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

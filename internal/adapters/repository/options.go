package repository

import (
	"regexp"
	"time"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// Option applies a configuration option to the SQLStore.
type Option func(*SQLStore)

// WithTable overrides the points table name. Invalid names are ignored.
func WithTable(name string) Option {
	return func(s *SQLStore) {
		if tableNameRe.MatchString(name) {
			s.table = name
		}
	}
}

// WithConnMaxLifetime bounds how long pooled connections are reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(s *SQLStore) {
		if d > 0 {
			s.connMaxLifetime = d
		}
	}
}

// WithMaxOpenConns caps the connection pool. SQLite always uses one connection.
func WithMaxOpenConns(n int) Option {
	return func(s *SQLStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import "log/slog"

type PostgresOptionFunc func(*MetadataStorePostgres)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.logger = logger
	}
}

// WithHost specifies the database host
func WithHost(host string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.host = host
	}
}

// WithPort specifies the database port
func WithPort(port uint) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.port = port
	}
}

// WithUser specifies the database user
func WithUser(user string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.user = user
	}
}

// WithPassword specifies the database password
func WithPassword(password string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.password = password
	}
}

// WithDatabase specifies the database name
func WithDatabase(database string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.database = database
	}
}

// WithSSLMode specifies the sslmode parameter
func WithSSLMode(sslMode string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.sslMode = sslMode
	}
}

// WithTimeZone specifies the TimeZone parameter
func WithTimeZone(timeZone string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.timeZone = timeZone
	}
}

// WithDSN specifies a full connection string, overriding the other options
func WithDSN(dsn string) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.dsn = dsn
	}
}

// WithMaxOpenConns limits the number of open connections. Zero keeps the default
func WithMaxOpenConns(n uint) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.pool.MaxOpenConns = n
	}
}

// WithMaxIdleConns limits the number of idle connections. Zero keeps the default
func WithMaxIdleConns(n uint) PostgresOptionFunc {
	return func(d *MetadataStorePostgres) {
		d.pool.MaxIdleConns = n
	}
}

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

package mysql

import "log/slog"

type MysqlOptionFunc func(*MetadataStoreMysql)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.logger = logger
	}
}

// WithHost specifies the database host
func WithHost(host string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.host = host
	}
}

// WithPort specifies the database port
func WithPort(port uint) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.port = port
	}
}

// WithUser specifies the database user
func WithUser(user string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.user = user
	}
}

// WithPassword specifies the database password
func WithPassword(password string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.password = password
	}
}

// WithDatabase specifies the database name
func WithDatabase(database string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.database = database
	}
}

// WithTLSMode specifies the tls DSN parameter
func WithTLSMode(tlsMode string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.tlsMode = tlsMode
	}
}

// WithTimeZone specifies the connection location
func WithTimeZone(timeZone string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.timeZone = timeZone
	}
}

// WithDSN specifies a full connection string, overriding the other options
func WithDSN(dsn string) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.dsn = dsn
	}
}

// WithMaxOpenConns limits the number of open connections. Zero keeps the default
func WithMaxOpenConns(n uint) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.pool.MaxOpenConns = n
	}
}

// WithMaxIdleConns limits the number of idle connections. Zero keeps the default
func WithMaxIdleConns(n uint) MysqlOptionFunc {
	return func(d *MetadataStoreMysql) {
		d.pool.MaxIdleConns = n
	}
}

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

package gormstore

import (
	"time"

	"gorm.io/gorm"
)

const (
	DefaultMaxOpenConns    = 50
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = time.Hour
)

// Pool holds connection pool limits for server-backed metadata stores.
// Zero values fall back to the defaults above
type Pool struct {
	MaxOpenConns    uint
	MaxIdleConns    uint
	ConnMaxLifetime time.Duration
}

// Apply sets the pool limits on the sql.DB underlying db
func (p Pool) Apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	maxOpen := int(p.MaxOpenConns) //nolint:gosec
	if maxOpen == 0 {
		maxOpen = DefaultMaxOpenConns
	}
	maxIdle := int(p.MaxIdleConns) //nolint:gosec
	if maxIdle == 0 {
		maxIdle = DefaultMaxIdleConns
	}
	// Idle connections beyond the open limit would never be used
	maxIdle = min(maxIdle, maxOpen)
	lifetime := p.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = DefaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

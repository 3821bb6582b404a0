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

package mysql_test

import (
	"strings"
	"testing"

	"github.com/blinklabs-io/auctioneer/database/plugin/metadata/mysql"
	"github.com/stretchr/testify/assert"
)

func TestDSNFromOptions(t *testing.T) {
	d := mysql.NewWithOptions(
		mysql.WithHost("db"),
		mysql.WithPort(3307),
		mysql.WithUser("bidder"),
		mysql.WithPassword("pw"),
		mysql.WithTLSMode("skip-verify"),
	)
	dsn := d.DSN()
	assert.True(t, strings.HasPrefix(dsn, "bidder:pw@tcp(db:3307)/auctioneer?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "tls=skip-verify")
}

func TestDSNOverride(t *testing.T) {
	d := mysql.NewWithOptions(mysql.WithDSN("u:p@tcp(h:1)/x"))
	assert.Equal(t, "u:p@tcp(h:1)/x", d.DSN())
}

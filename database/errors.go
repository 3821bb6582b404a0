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

package database

import (
	"errors"
	"fmt"
)

// ErrPartialCommit is matched by PartialCommitError
var ErrPartialCommit = errors.New("partial commit")

type CommitTimestampError struct {
	MetadataTimestamp int64
	BlobTimestamp     int64
}

func (e CommitTimestampError) Error() string {
	return fmt.Sprintf(
		"commit timestamp mismatch: %d (metadata) != %d (blob)",
		e.MetadataTimestamp,
		e.BlobTimestamp,
	)
}

// PartialCommitError is returned when the blob half of a transaction was
// committed but the metadata half was not. The blob store is authoritative,
// so the metadata side must be reconciled from it
type PartialCommitError struct {
	Err error
}

func (e PartialCommitError) Error() string {
	return fmt.Sprintf(
		"partial commit: metadata commit failed after blob commit: %s",
		e.Err,
	)
}

func (e PartialCommitError) Unwrap() error {
	return e.Err
}

func (e PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}

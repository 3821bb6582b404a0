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

package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrObjectNotFound = errors.New("archive object not found")

// Backend stores archived ledger segments
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// BackendOptions carries settings for the cloud backends
type BackendOptions struct {
	// CredentialsFile is a GCP service account file
	CredentialsFile string
	// Region overrides the AWS region from the default config chain
	Region string
}

// NewBackend opens the backend named by a location URL: file:///dir (or a
// bare path), gs://bucket[/prefix] or s3://bucket[/prefix]
func NewBackend(
	ctx context.Context,
	location string,
	opts BackendOptions,
) (Backend, error) {
	scheme, rest, found := strings.Cut(location, "://")
	if !found {
		return NewFileBackend(location)
	}
	switch scheme {
	case "file":
		return NewFileBackend(rest)
	case "gs":
		bucket, prefix, err := splitBucket(rest)
		if err != nil {
			return nil, err
		}
		return NewGCSBackend(ctx, bucket, prefix, opts.CredentialsFile)
	case "s3":
		bucket, prefix, err := splitBucket(rest)
		if err != nil {
			return nil, err
		}
		return NewS3Backend(ctx, bucket, prefix, opts.Region)
	default:
		return nil, fmt.Errorf("unsupported archive location scheme: %s", scheme)
	}
}

func splitBucket(path string) (string, string, error) {
	bucket, prefix, _ := strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New("archive bucket not set")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// FileBackend writes segments below a local directory
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("archive directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(key string) (string, error) {
	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid archive key: %s", key)
	}
	return filepath.Join(b.dir, local), nil
}

// Put writes the object atomically via a temporary file and rename
func (b *FileBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Close() error {
	return nil
}

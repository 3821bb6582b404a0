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
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBackend stores segments in a Google Cloud Storage bucket
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSBackend(
	ctx context.Context,
	bucket string,
	prefix string,
	credentialsFile string,
) (*GCSBackend, error) {
	var clientOpts []option.ClientOption
	clientOpts = append(clientOpts, storage.WithDisabledClientMetrics())
	if credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(credentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs archive: create client: %w", err)
	}
	return &GCSBackend{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
	}, nil
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.bucket.Object(b.prefix + key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs archive: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs archive: close %s: %w", key, err)
	}
	return nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(b.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("gcs archive: read %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// Copyright 2026 Blink Labs Software
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

package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore opens objects addressed by gs:// references
type ObjectStore interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Close() error
}

// gcsStore creates its client on first use so that deployments without
// gs:// references never need credentials
type gcsStore struct {
	credentialsFile string
	mu              sync.Mutex
	client          *storage.Client
}

func newGCSStore(credentialsFile string) *gcsStore {
	return &gcsStore{credentialsFile: credentialsFile}
}

func (s *gcsStore) bucket(ctx context.Context, name string) (*storage.BucketHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
		if s.credentialsFile != "" {
			clientOpts = append(
				clientOpts,
				option.WithCredentialsFile(s.credentialsFile),
			)
		}
		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed creating storage client: %w", err)
		}
		s.client = client
	}
	return s.client.Bucket(name), nil
}

func (s *gcsStore) Open(
	ctx context.Context,
	bucket, object string,
) (io.ReadCloser, error) {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	r, err := b.Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, bucket, object)
		}
		return nil, err
	}
	return r, nil
}

func (s *gcsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

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

package metadata_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/fundwatch/metadata"
)

const document = `{"title":"Clean water for the valley","description":"Wells","location":"Lima, Peru","image":"https://img.example/1.png"}`

type memStore struct {
	objects map[string]string
	opened  int
}

func (s *memStore) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	s.opened++
	body, ok := s.objects[bucket+"/"+object]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *memStore) Close() error { return nil }

func newResolver(
	t *testing.T,
	gateway string,
	store metadata.ObjectStore,
	reg prometheus.Registerer,
) *metadata.Resolver {
	t.Helper()
	r, err := metadata.NewResolver(metadata.ResolverConfig{
		PromRegistry: reg,
		IPFSGateway:  gateway,
		ObjectStore:  store,
		MaxRetries:   2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestResolveHTTPCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, document)
	}))
	defer srv.Close()
	reg := prometheus.NewRegistry()
	r := newResolver(t, "", nil, reg)

	for range 3 {
		m, err := r.Resolve(context.Background(), srv.URL+"/meta.json")
		require.NoError(t, err)
		assert.Equal(t, "Clean water for the valley", m.Title)
		assert.Equal(t, "Lima, Peru", m.Location)
		assert.False(t, m.Placeholder)
	}
	assert.Equal(t, int32(1), hits.Load())
	count, err := promtest.GatherAndCount(reg, "fundwatch_metadata_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveIPFSGateway(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		_, _ = io.WriteString(w, `{"title":"Only a title"}`)
	}))
	defer srv.Close()
	r := newResolver(t, srv.URL+"/ipfs", nil, nil)

	m, err := r.Resolve(context.Background(), "ipfs://QmTestCid/meta.json")
	require.NoError(t, err)
	assert.Equal(t, "/ipfs/QmTestCid/meta.json", path.Load())
	assert.Equal(t, "Only a title", m.Title)
	assert.Equal(t, metadata.PlaceholderDescription, m.Description)
	assert.Equal(t, metadata.PlaceholderImage, m.Image)
	assert.True(t, m.Placeholder)
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, document)
	}))
	defer srv.Close()
	r := newResolver(t, "", nil, nil)
	m, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Wells", m.Description)
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := newResolver(t, "", nil, nil)
	_, err := r.Resolve(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestLookupPlaceholdersNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			_, _ = io.WriteString(w, "not json")
			return
		}
		_, _ = io.WriteString(w, document)
	}))
	defer srv.Close()
	r := newResolver(t, "", nil, nil)

	assert.Equal(t, metadata.Placeholders(), r.Lookup(context.Background(), srv.URL))
	fail.Store(false)
	assert.Equal(t, "Clean water for the valley", r.Lookup(context.Background(), srv.URL).Title)
}

func TestResolveGCS(t *testing.T) {
	store := &memStore{objects: map[string]string{"campaigns/7.json": document}}
	r := newResolver(t, "", store, nil)
	m, err := r.Resolve(context.Background(), "gs://campaigns/7.json")
	require.NoError(t, err)
	assert.Equal(t, "Lima, Peru", m.Location)

	_, err = r.Resolve(context.Background(), "gs://campaigns/8.json")
	require.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = r.Resolve(context.Background(), "gs://campaigns")
	require.ErrorIs(t, err, metadata.ErrUnsupportedScheme)
	assert.Equal(t, 2, store.opened)
}

func TestResolveUnsupported(t *testing.T) {
	r := newResolver(t, "", &memStore{}, nil)
	for _, ref := range []string{"", "ftp://host/file", "ipfs://", "not a url"} {
		_, err := r.Resolve(context.Background(), ref)
		require.Error(t, err, ref)
		assert.True(t, errors.Is(err, metadata.ErrUnsupportedScheme), ref)
	}
}

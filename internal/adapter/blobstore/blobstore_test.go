package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

func TestKeyFormat(t *testing.T) {
	key := Key("j-1", "enhanced", "jpg")
	assert.Regexp(t, regexp.MustCompile(`^enhanced-images/j-1_enhanced_[0-9a-f]{32}\.jpg$`), key)
	assert.NotEqual(t, key, Key("j-1", "enhanced", "jpg"), "random suffix per call")
}

func TestLocalPutGet(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "http://localhost:8080/images/")
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := l.Put(ctx, "enhanced-images/j-1_enhanced_abc.jpg", []byte("jpegbytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "local", ref.Provider)
	assert.Equal(t, "http://localhost:8080/images/j-1_enhanced_abc.jpg", ref.URL)

	b, err := l.Get(ctx, "enhanced-images/j-1_enhanced_abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), b)

	// Idempotent re-put.
	_, err = l.Put(ctx, "enhanced-images/j-1_enhanced_abc.jpg", []byte("jpegbytes"), "image/jpeg")
	require.NoError(t, err)

	_, err = l.Get(ctx, "missing.jpg")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGatewayPutGet(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k3y" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/invoices/")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			objects[path] = b
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			b, ok := objects[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(b)
		}
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "invoices", "k3y")
	ctx := context.Background()

	ref, err := g.Put(ctx, "enhanced-images/j-1_x_a.jpg", []byte("data"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "cloud", ref.Provider)
	assert.Equal(t, srv.URL+"/invoices/enhanced-images/j-1_x_a.jpg", ref.URL)

	b, err := g.Get(ctx, "enhanced-images/j-1_x_a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), b)

	_, err = g.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGatewayRetriesOn5xx(t *testing.T) {
	var mu sync.Mutex
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n++
		attempt := n
		mu.Unlock()
		if attempt == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "invoices", "k3y")
	_, err := g.Put(context.Background(), "k", []byte("d"), "image/jpeg")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
}

type failingStore struct{}

func (failingStore) Put(domain.Context, string, []byte, string) (domain.BlobRef, error) {
	return domain.BlobRef{}, errors.New("gateway down")
}
func (failingStore) Get(domain.Context, string) ([]byte, error) {
	return nil, errors.New("gateway down")
}

func TestHybridFallsBackToLocal(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "http://localhost:8080/images")
	require.NoError(t, err)
	h := NewHybrid(failingStore{}, l)
	ctx := context.Background()

	ref, err := h.Put(ctx, "enhanced-images/j-1_x_a.jpg", []byte("d"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "local", ref.Provider, "cloud failure records provider local")

	b, err := h.Get(ctx, "enhanced-images/j-1_x_a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), b)
}

func TestHybridPrefersCloud(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path := strings.TrimPrefix(r.URL.Path, "/invoices/")
		if r.Method == http.MethodPut {
			b, _ := io.ReadAll(r.Body)
			objects[path] = b
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l, err := NewLocal(t.TempDir(), "http://localhost:8080/images")
	require.NoError(t, err)
	h := NewHybrid(NewGateway(srv.URL, "invoices", "k"), l)

	ref, err := h.Put(context.Background(), "enhanced-images/j-1_x_a.jpg", []byte("d"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "cloud", ref.Provider)

	// Mirror also written.
	b, err := l.Get(context.Background(), "enhanced-images/j-1_x_a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), b)
}

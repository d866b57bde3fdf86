package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/store"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (m *memWriter) Put(_ context.Context, key string, body io.Reader, _ string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seedStore(t *testing.T) (*store.MemoryStore, time.Time) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()

	open := func(at time.Time) model.Position {
		p, err := st.Open(ctx, store.OpenParams{Side: model.SideBuy, PriceUSD: decimal.NewFromInt(2000), OpenedAt: at})
		require.NoError(t, err)
		return p
	}
	old := open(base)
	_, err := st.Close(ctx, old.ID, base.Add(time.Hour), decimal.NewFromInt(2100))
	require.NoError(t, err)

	recent := open(base)
	_, err = st.Close(ctx, recent.ID, base.Add(72*time.Hour), decimal.NewFromInt(1900))
	require.NoError(t, err)

	open(base) // still open
	return st, base
}

func TestExportClosed(t *testing.T) {
	st, base := seedStore(t)
	w := &memWriter{}
	e := NewExporter(st, w, "exports/positions", quiet())
	e.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	key, n, err := e.ExportClosed(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "exports/positions/closed-20250304-050607.json", key)
	assert.Equal(t, 1, n)

	var doc Document
	require.NoError(t, json.Unmarshal(w.objects[key], &doc))
	assert.Equal(t, 1, doc.Count)
	require.Len(t, doc.Positions, 1)
	assert.Equal(t, model.StatusClosed, doc.Positions[0].Status)
	assert.True(t, doc.Positions[0].ProfitLoss.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestExportClosedNothingToDo(t *testing.T) {
	w := &memWriter{}
	e := NewExporter(store.NewMemoryStore(), w, "p", quiet())

	key, n, err := e.ExportClosed(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestExportClosedWriterError(t *testing.T) {
	st, base := seedStore(t)
	boom := errors.New("bucket gone")
	e := NewExporter(st, &memWriter{err: boom}, "p", quiet())

	_, _, err := e.ExportClosed(context.Background(), base.Add(100*time.Hour))
	assert.ErrorIs(t, err, boom)
}

func TestS3WriterPathStyleUpload(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewS3Writer(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "positions",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	require.NoError(t, w.Put(context.Background(), "exports/closed.json", bytes.NewReader([]byte(`{"count":0}`)), "application/json"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/positions/exports/closed.json"), path)
}

func TestNewS3WriterRequiresBucket(t *testing.T) {
	_, err := NewS3Writer(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000"))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000"))
}

func TestS3WriterHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || !strings.HasPrefix(r.URL.Path, "/positions") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	w, err := NewS3Writer(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "positions",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "positions", w.Bucket())

	require.NoError(t, w.Health(context.Background()))

	status = http.StatusNotFound
	err = w.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed for bucket positions")
}

package usecase

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/blobstore"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/redisq"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer/stub"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/webhook"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/internal/pipeline"
)

const testSecret = "test-webhook-secret"

// memStore is an in-memory domain.ResultStore for orchestrator tests.
type memStore struct {
	mu    sync.Mutex
	byJob map[string]domain.OCRResult
}

func newMemStore() *memStore { return &memStore{byJob: map[string]domain.OCRResult{}} }

func (m *memStore) Store(_ domain.Context, r domain.OCRResult) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byJob[r.JobID]; ok {
		return "", domain.ErrDuplicate
	}
	r.ID = "rec-" + r.JobID
	m.byJob[r.JobID] = r
	return r.ID, nil
}

func (m *memStore) Get(_ domain.Context, idOrJobID string) (domain.OCRResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byJob {
		if r.ID == idOrJobID || r.JobID == idOrJobID {
			return r, nil
		}
	}
	return domain.OCRResult{}, domain.ErrNotFound
}

func (m *memStore) Update(domain.Context, string, map[string]any) error { return nil }

func (m *memStore) QueryBySubmitter(domain.Context, string, int) ([]domain.OCRResult, error) {
	return nil, nil
}

func (m *memStore) QueryByTimeRange(domain.Context, time.Time, time.Time, int) ([]domain.OCRResult, error) {
	return nil, nil
}

func (m *memStore) Stats(domain.Context) (domain.ResultStats, error) {
	return domain.ResultStats{}, nil
}

// receiptImage paints dark text bars on a white page so the classifier
// accepts it.
func receiptImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 245, 245, 245, 255
	}
	for y := h / 8; y < h-h/8; y += h / 20 {
		for yy := y; yy < y+h/70+2; yy++ {
			for x := w / 10; x < w-w/10; x++ {
				i := (yy*w + x) * 4
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 20, 20, 20
			}
		}
	}
	return img
}

type hook struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
}

func (h *hook) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, b)
		h.sigs = append(h.sigs, r.Header.Get("X-Webhook-Signature"))
		h.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (h *hook) last(t *testing.T) map[string]any {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.bodies)
	var m map[string]any
	require.NoError(t, json.Unmarshal(h.bodies[len(h.bodies)-1], &m))
	return m
}

type fixture struct {
	queue    *redisq.Queue
	store    *memStore
	proc     *Processor
	hook     *hook
	hookSrv  *httptest.Server
	imageSrv *httptest.Server
}

func newFixture(t *testing.T, rec domain.Recognizer, pipeCfg pipeline.Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := redisq.New(rdb, 30*time.Second, 3)

	h := &hook{}
	hookSrv := httptest.NewServer(h.handler(http.StatusOK))
	t.Cleanup(hookSrv.Close)

	raw, err := pipeline.Encode(receiptImage(400, 520), 95)
	require.NoError(t, err)
	imageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoice.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(imageSrv.Close)

	blobs, err := blobstore.NewLocal(t.TempDir(), "http://localhost:8080/images")
	require.NoError(t, err)

	store := newMemStore()
	proc := NewProcessor(q, rec, store, blobs, webhook.New(testSecret), nil,
		pipeline.New(pipeCfg), ProcessorConfig{
			ConfidenceThreshold: 0.3,
			Language:            "th+en",
			Model:               "stub",
		})
	return &fixture{queue: q, store: store, proc: proc, hook: h, hookSrv: hookSrv, imageSrv: imageSrv}
}

func (f *fixture) submit(t *testing.T, jobID, path string) *domain.Lease {
	t.Helper()
	ctx := context.Background()
	existed, err := f.queue.Enqueue(ctx, domain.JobPayload{
		JobID:      jobID,
		ImageURL:   f.imageSrv.URL + path,
		UserID:     "u-1",
		MessageID:  "m-1",
		WebhookURL: f.hookSrv.URL,
		EnqueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, existed)
	lease, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	return lease
}

func defaultStub() domain.Recognizer {
	return stub.New(domain.PassPrimary,
		domain.TextRegion{Text: "ร้านอาหารดีใจ", Confidence: 0.9},
		domain.TextRegion{Text: "รวมทั้งสิ้น 245.50", Confidence: 0.85},
		domain.TextRegion{Text: "ข้าวผัดกุ้ง 120.00", Confidence: 0.9},
	)
}

func TestHandleCompletesJob(t *testing.T) {
	f := newFixture(t, defaultStub(), pipeline.Config{})
	ctx := context.Background()
	lease := f.submit(t, "j-ok", "/invoice.jpg")

	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, meta.Status)
	assert.Equal(t, domain.StageCompleted, meta.Stage)
	assert.Equal(t, 100, meta.Progress)
	assert.NotZero(t, meta.ProcessingMS)

	res, err := f.store.Get(ctx, "j-ok")
	require.NoError(t, err)
	assert.Greater(t, res.OverallConfidence, 0.0)
	require.True(t, res.Fields.Vendor.Found)
	assert.Equal(t, "ร้านอาหารดีใจ", *res.Fields.Vendor.Value)
	require.True(t, res.Fields.TotalAmount.Found)
	assert.Equal(t, 245.50, *res.Fields.TotalAmount.Value)
	assert.Equal(t, "local", res.EnhancedImage.Provider)

	body := f.hook.last(t)
	assert.Equal(t, "job.completed", body["event"])
	assert.Equal(t, "j-ok", body["job_id"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "ร้านอาหารดีใจ", result["vendor"])
	assert.InDelta(t, 245.50, result["amount"].(float64), 1e-9)
	assert.Nil(t, result["date"], "absent field is a bare null")
	assert.Nil(t, result["invoice_number"], "absent field is a bare null")
	assert.Equal(t, "ร้านอาหารดีใจ - 245.50฿", result["invoice_summary"])
	assert.True(t, webhook.Verify(testSecret, f.hook.bodies[0], f.hook.sigs[0]))

	next, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "completed job must leave the queue")
}

func TestHandleNonDocumentFailsPermanently(t *testing.T) {
	f := newFixture(t, defaultStub(), pipeline.Config{
		FaultInject: map[string]string{"document_classification": "forced"},
	})
	ctx := context.Background()
	lease := f.submit(t, "j-photo", "/invoice.jpg")

	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-photo")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, meta.Status)
	assert.Equal(t, domain.StagePreprocessing, meta.Stage)
	assert.NotEmpty(t, meta.Error)

	body := f.hook.last(t)
	assert.Equal(t, "job.failed", body["event"])
	assert.Equal(t, string(domain.StagePreprocessing), body["stage"])
	details, ok := body["classification_details"].(map[string]any)
	require.True(t, ok, "rejection must carry the classifier breakdown")
	assert.Len(t, details, 5)

	next, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "permanent failures are not retried")
}

func TestHandleTransientFailureRequeues(t *testing.T) {
	f := newFixture(t, stub.NewFailing(domain.ErrRecognizerUnavailable), pipeline.Config{})
	ctx := context.Background()
	lease := f.submit(t, "j-retry", "/invoice.jpg")

	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-retry")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, meta.Status)
	assert.Equal(t, 1, meta.RetryCount)

	next, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, next, "released job must be redeliverable")
	assert.Equal(t, "j-retry", next.Payload.JobID)
	assert.Equal(t, 1, next.RetryCount)

	assert.Empty(t, f.hook.bodies, "no webhook while retries remain")
}

func TestHandleExhaustionDeadLetters(t *testing.T) {
	f := newFixture(t, stub.NewFailing(domain.ErrRecognizerUnavailable), pipeline.Config{})
	ctx := context.Background()
	lease := f.submit(t, "j-dead", "/invoice.jpg")

	for i := 0; i < 4; i++ {
		f.proc.Handle(ctx, lease)
		next, err := f.queue.Dequeue(ctx)
		require.NoError(t, err)
		if next == nil {
			break
		}
		lease = next
	}

	meta, err := f.queue.Meta(ctx, "j-dead")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, meta.Status)
	assert.Equal(t, domain.StageQueue, meta.Stage)

	body := f.hook.last(t)
	assert.Equal(t, "job.failed", body["event"])
	assert.Equal(t, string(domain.StageQueue), body["stage"])
}

func TestHandleMissingSourceImage(t *testing.T) {
	f := newFixture(t, defaultStub(), pipeline.Config{})
	ctx := context.Background()
	lease := f.submit(t, "j-404", "/missing.jpg")

	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-404")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, meta.Status)
	assert.Equal(t, domain.StageDownloading, meta.Stage)

	body := f.hook.last(t)
	assert.Equal(t, "job.failed", body["event"])
	assert.Equal(t, string(domain.StageDownloading), body["stage"])
}

func TestHandleWithoutWebhookURL(t *testing.T) {
	f := newFixture(t, defaultStub(), pipeline.Config{})
	ctx := context.Background()
	existed, err := f.queue.Enqueue(ctx, domain.JobPayload{
		JobID:    "j-nohook",
		ImageURL: f.imageSrv.URL + "/invoice.jpg",
	})
	require.NoError(t, err)
	require.False(t, existed)
	lease, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)

	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-nohook")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, meta.Status)
	assert.Empty(t, f.hook.bodies)
}

func TestHandleDuplicateStoreKeepsFirst(t *testing.T) {
	f := newFixture(t, defaultStub(), pipeline.Config{})
	ctx := context.Background()
	pre := domain.OCRResult{JobID: "j-dup", FullText: "first attempt"}
	_, err := f.store.Store(ctx, pre)
	require.NoError(t, err)

	lease := f.submit(t, "j-dup", "/invoice.jpg")
	f.proc.Handle(ctx, lease)

	meta, err := f.queue.Meta(ctx, "j-dup")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, meta.Status)

	res, err := f.store.Get(ctx, "j-dup")
	require.NoError(t, err)
	assert.Equal(t, "first attempt", res.FullText, "the first stored record stands")
}

func TestInvoiceSummaryDegrades(t *testing.T) {
	v := "ร้าน A"
	amt := 99.5
	full := domain.InvoiceFields{
		Vendor:      domain.Field{Value: &v, Found: true},
		TotalAmount: domain.AmountField{Value: &amt, Found: true},
	}
	assert.Equal(t, "ร้าน A - 99.50฿", invoiceSummary(full))
	assert.Equal(t, "99.50฿", invoiceSummary(domain.InvoiceFields{
		TotalAmount: domain.AmountField{Value: &amt, Found: true},
	}))
	assert.Equal(t, "ร้าน A", invoiceSummary(domain.InvoiceFields{
		Vendor: domain.Field{Value: &v, Found: true},
	}))
	assert.Equal(t, "", invoiceSummary(domain.InvoiceFields{}))
}

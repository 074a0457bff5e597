package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dunamismax/aviflow/internal/config"
	"github.com/dunamismax/aviflow/internal/convert"
	"github.com/dunamismax/aviflow/internal/ratelimit"
)

type fakeConverter struct {
	processFn  func(ctx context.Context, req convert.Request) (convert.Result, error)
	variantsFn func(ctx context.Context, req convert.Request) (convert.VariantsResult, error)
}

func (f *fakeConverter) Process(ctx context.Context, req convert.Request) (convert.Result, error) {
	return f.processFn(ctx, req)
}

func (f *fakeConverter) ProcessVariants(ctx context.Context, req convert.Request) (convert.VariantsResult, error) {
	return f.variantsFn(ctx, req)
}

func testServer(conv converter) *Server {
	return NewServer(
		log.New(io.Discard, "", 0),
		conv,
		config.ConvertConfig{MaxFileSize: 1 << 20, Quality: 80, Speed: 6, ThumbnailMax: 300},
		nil,
	)
}

func okResult(req convert.Request) convert.Result {
	return convert.Result{
		Data:        []byte("avif-bytes"),
		Filename:    convert.OutputFilename(req.Filename),
		SourceBytes: int64(len(req.Data)),
		OutputBytes: int64(len("avif-bytes")),
	}
}

func buildTestJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func multipartUpload(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s := testServer(&fakeConverter{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf(`expected {"status":"healthy"}, got %s`, rec.Body.String())
	}
}

func TestHealthDuringInFlightConversion(t *testing.T) {
	release := make(chan struct{})
	conv := &fakeConverter{
		processFn: func(ctx context.Context, req convert.Request) (convert.Result, error) {
			<-release
			return okResult(req), nil
		},
	}
	s := testServer(conv)
	handler := s.Handler()

	uploadReq := multipartUpload(t, "/convert", "a.heic", []byte("data"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, uploadReq)
	}()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must answer during in-flight conversions, got %d", rec.Code)
	}

	close(release)
	wg.Wait()
}

func TestConvertSuccess(t *testing.T) {
	conv := &fakeConverter{
		processFn: func(_ context.Context, req convert.Request) (convert.Result, error) {
			if req.Format != convert.FormatHEIC {
				t.Fatalf("expected heic format on /convert, got %s", req.Format)
			}
			return okResult(req), nil
		},
	}
	s := testServer(conv)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert", "IMG_1189.HEIC", []byte("heic-data")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/avif" {
		t.Fatalf("expected image/avif, got %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="IMG_1189.avif"` {
		t.Fatalf("unexpected content disposition: %s", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("avif-bytes")) {
		t.Fatal("expected raw avif bytes in the response body")
	}
}

func TestConvertJPEGRoute(t *testing.T) {
	conv := &fakeConverter{
		processFn: func(_ context.Context, req convert.Request) (convert.Result, error) {
			if req.Format != convert.FormatJPEG {
				t.Fatalf("expected jpeg format on /convert-jpeg, got %s", req.Format)
			}
			return okResult(req), nil
		},
	}
	s := testServer(conv)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert-jpeg", "photo.jpg", []byte("jpeg-data")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestConvertErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"size exceeded", &convert.SizeError{Size: 51, Limit: 50}, http.StatusRequestEntityTooLarge},
		{"decode corrupt", &convert.DecodeError{Reason: convert.ReasonCorrupt, Format: convert.FormatHEIC}, http.StatusBadRequest},
		{"decode unsupported", &convert.DecodeError{Reason: convert.ReasonUnsupported, Format: convert.FormatHEIC}, http.StatusBadRequest},
		{"encode failure", &convert.EncodeError{}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := &fakeConverter{
				processFn: func(context.Context, convert.Request) (convert.Result, error) {
					return convert.Result{}, tc.err
				},
			}
			s := testServer(conv)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert", "a.heic", []byte("data")))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Fatal("expected an error message in the body")
			}
		})
	}
}

func TestConvertMissingFileField(t *testing.T) {
	s := testServer(&fakeConverter{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("note", "no file here")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/convert", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file field, got %d", rec.Code)
	}
}

func TestConvertPanicRecovered(t *testing.T) {
	conv := &fakeConverter{
		processFn: func(context.Context, convert.Request) (convert.Result, error) {
			panic("handler-level failure")
		},
	}
	s := testServer(conv)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert", "a.heic", []byte("data")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}

	// The server must keep answering afterwards.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy server after panic, got %d", rec.Code)
	}
}

func TestConvertVariants(t *testing.T) {
	jpegData := buildTestJPEG(t)
	conv := &fakeConverter{
		variantsFn: func(_ context.Context, req convert.Request) (convert.VariantsResult, error) {
			if req.Format != convert.FormatJPEG {
				t.Fatalf("expected sniffed jpeg format, got %s", req.Format)
			}
			return convert.VariantsResult{
				Full: convert.Result{
					Data:        []byte("full-bytes"),
					Filename:    "photo.avif",
					SourceBytes: int64(len(req.Data)),
					OutputBytes: 10,
				},
				Thumbnail: convert.Result{
					Data:        []byte("thumb-bytes"),
					Filename:    "photo_thumb.avif",
					SourceBytes: int64(len(req.Data)),
					OutputBytes: 11,
				},
			}, nil
		},
	}
	s := testServer(conv)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert/variants", "photo.jpg", jpegData))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success          bool   `json:"success"`
		OriginalFilename string `json:"original_filename"`
		Variants         []struct {
			Variant  string `json:"variant"`
			Filename string `json:"filename"`
			Content  string `json:"content"`
			Size     int64  `json:"size"`
			Mimetype string `json:"mimetype"`
		} `json:"variants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode variants body: %v", err)
	}

	if !body.Success || body.OriginalFilename != "photo.jpg" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
	if len(body.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(body.Variants))
	}
	if body.Variants[0].Variant != "full" || body.Variants[1].Variant != "thumbnail" {
		t.Fatalf("unexpected variant order: %s", rec.Body.String())
	}

	decoded, err := base64.StdEncoding.DecodeString(body.Variants[0].Content)
	if err != nil {
		t.Fatalf("decode full content: %v", err)
	}
	if !bytes.Equal(decoded, []byte("full-bytes")) {
		t.Fatal("expected base64 round-trip of the full variant bytes")
	}
	if body.Variants[1].Mimetype != "image/avif" {
		t.Fatalf("expected image/avif mimetype, got %s", body.Variants[1].Mimetype)
	}
}

func TestConvertVariantsRejectsUnknownContent(t *testing.T) {
	s := testServer(&fakeConverter{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert/variants", "notes.txt", []byte("plain text")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsniffable content, got %d", rec.Code)
	}
}

func TestUnknownPath(t *testing.T) {
	s := testServer(&fakeConverter{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/123", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRootInfo(t *testing.T) {
	s := testServer(&fakeConverter{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode root body: %v", err)
	}
	if body["service"] != "aviflow" {
		t.Fatalf("unexpected root payload: %s", rec.Body.String())
	}
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (f *fakeLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return f.decision, f.err
}

func TestRateLimitRejection(t *testing.T) {
	conv := &fakeConverter{
		processFn: func(_ context.Context, req convert.Request) (convert.Result, error) {
			return okResult(req), nil
		},
	}
	s := NewServer(
		log.New(io.Discard, "", 0),
		conv,
		config.ConvertConfig{MaxFileSize: 1 << 20, Quality: 80},
		&fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 0}},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert", "a.heic", []byte("data")))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Health is never rate limited.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	conv := &fakeConverter{
		processFn: func(_ context.Context, req convert.Request) (convert.Result, error) {
			return okResult(req), nil
		},
	}
	s := NewServer(
		log.New(io.Discard, "", 0),
		conv,
		config.ConvertConfig{MaxFileSize: 1 << 20, Quality: 80},
		&fakeLimiter{err: context.DeadlineExceeded},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "/convert", "a.heic", []byte("data")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected limiter errors to fail open, got %d", rec.Code)
	}
}

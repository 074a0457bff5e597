package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/aviflow/internal/config"
	"github.com/dunamismax/aviflow/internal/convert"
	"github.com/dunamismax/aviflow/internal/id"
)

// multipartSlack covers multipart boundaries and headers on top of the file
// size limit so an exactly-at-limit upload is not rejected at the transport.
const multipartSlack = 1 << 20

type converter interface {
	Process(ctx context.Context, req convert.Request) (convert.Result, error)
	ProcessVariants(ctx context.Context, req convert.Request) (convert.VariantsResult, error)
}

type Server struct {
	logger      *log.Logger
	converter   converter
	cfg         config.ConvertConfig
	metrics     *metrics
	tracer      trace.Tracer
	rateLimiter RateLimiter
	mux         *http.ServeMux
}

func NewServer(logger *log.Logger, conv converter, cfg config.ConvertConfig, limiter RateLimiter) *Server {
	s := &Server{
		logger:      logger,
		converter:   conv,
		cfg:         cfg,
		metrics:     newMetrics(),
		tracer:      otel.Tracer("aviflow/api"),
		rateLimiter: limiter,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withRequestID(h)
	h = s.withRecovery(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /convert", s.handleConvertHEIC)
	s.mux.HandleFunc("POST /convert-jpeg", s.handleConvertJPEG)
	s.mux.HandleFunc("POST /convert/variants", s.handleConvertVariants)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":           "aviflow",
		"status":            "healthy",
		"quality":           s.cfg.Quality,
		"max_file_size_mb":  s.cfg.MaxFileSize / (1 << 20),
		"supported_formats": []string{"HEIC", "HEIF", "JPEG", "JPG"},
	})
}

func (s *Server) handleConvertHEIC(w http.ResponseWriter, r *http.Request) {
	s.convertAndStream(w, r, convert.FormatHEIC)
}

func (s *Server) handleConvertJPEG(w http.ResponseWriter, r *http.Request) {
	s.convertAndStream(w, r, convert.FormatJPEG)
}

func (s *Server) convertAndStream(w http.ResponseWriter, r *http.Request, format convert.SourceFormat) {
	start := time.Now()

	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "convert.pipeline", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("convert.format", string(format)),
		attribute.Int("convert.input_bytes", len(data)),
	)

	result, err := s.converter.Process(ctx, convert.Request{
		Filename: filename,
		Format:   format,
		Data:     data,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		span.End()
		s.writeConvertError(w, r, format, err, time.Since(start))
		return
	}
	span.SetAttributes(attribute.Int("convert.output_bytes", int(result.OutputBytes)))
	span.SetStatus(codes.Ok, "converted")
	span.End()

	s.observeConversion(format, "success", result, time.Since(start))
	s.logger.Printf(
		"converted request_id=%s format=%s file=%q in=%d out=%d saved=%.1f%% duration=%s",
		requestIDFrom(r.Context()), format, filename,
		result.SourceBytes, result.OutputBytes, result.Ratio*100, time.Since(start).Round(time.Millisecond),
	)

	w.Header().Set("Content-Type", "image/avif")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(result.OutputBytes, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *Server) handleConvertVariants(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	format, err := convert.DetectFormat(data)
	if err != nil {
		s.writeConvertError(w, r, "unknown", err, time.Since(start))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "convert.variants", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("convert.format", string(format)),
		attribute.Int("convert.input_bytes", len(data)),
	)
	defer span.End()

	variants, err := s.converter.ProcessVariants(ctx, convert.Request{
		Filename: filename,
		Format:   format,
		Data:     data,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		s.writeConvertError(w, r, format, err, time.Since(start))
		return
	}
	span.SetStatus(codes.Ok, "converted")

	s.observeConversion(format, "success", variants.Full, time.Since(start))
	s.logger.Printf(
		"converted request_id=%s format=%s file=%q variants=2 in=%d full=%d thumb=%d duration=%s",
		requestIDFrom(r.Context()), format, filename,
		variants.Full.SourceBytes, variants.Full.OutputBytes, variants.Thumbnail.OutputBytes,
		time.Since(start).Round(time.Millisecond),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"original_filename": filename,
		"variants": []variantPayload{
			newVariantPayload("full", variants.Full),
			newVariantPayload("thumbnail", variants.Thumbnail),
		},
	})
}

type variantPayload struct {
	Variant  string `json:"variant"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

func newVariantPayload(name string, result convert.Result) variantPayload {
	return variantPayload{
		Variant:  name,
		Filename: result.Filename,
		Content:  base64.StdEncoding.EncodeToString(result.Data),
		Size:     result.OutputBytes,
		Mimetype: "image/avif",
	}
}

// readUpload parses the multipart body and reads the "file" field. The body
// is capped slightly above the configured limit so the pipeline, not the
// transport, rejects oversized files with the proper error kind.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+multipartSlack)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("file too large: maximum size is %d bytes", s.cfg.MaxFileSize),
			})
			return nil, "", false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body: " + err.Error()})
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": `missing upload: form field key should be "file"`,
		})
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxFileSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return nil, "", false
	}

	filename := strings.TrimSpace(header.Filename)
	if filename == "" {
		filename = "image"
	}
	return data, filename, true
}

func (s *Server) writeConvertError(w http.ResponseWriter, r *http.Request, format convert.SourceFormat, err error, elapsed time.Duration) {
	status := statusForError(err)
	outcome := "decode_error"

	var sizeErr *convert.SizeError
	var encodeErr *convert.EncodeError
	switch {
	case errors.As(err, &sizeErr):
		outcome = "size_exceeded"
	case errors.As(err, &encodeErr):
		outcome = "encode_error"
	case status >= http.StatusInternalServerError:
		outcome = "internal_error"
	}

	s.metrics.conversionsTotal.WithLabelValues(string(format), outcome).Inc()
	s.metrics.conversionDuration.WithLabelValues(string(format), outcome).Observe(elapsed.Seconds())
	s.logger.Printf("conversion failed request_id=%s format=%s outcome=%s err=%v",
		requestIDFrom(r.Context()), format, outcome, err)

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	var sizeErr *convert.SizeError
	var decodeErr *convert.DecodeError
	var encodeErr *convert.EncodeError

	switch {
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.As(err, &encodeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) observeConversion(format convert.SourceFormat, outcome string, result convert.Result, elapsed time.Duration) {
	s.metrics.conversionsTotal.WithLabelValues(string(format), outcome).Inc()
	s.metrics.conversionDuration.WithLabelValues(string(format), outcome).Observe(elapsed.Seconds())
	s.metrics.inputBytesTotal.Add(float64(result.SourceBytes))
	s.metrics.outputBytesTotal.Add(float64(result.OutputBytes))
	if saved := result.SourceBytes - result.OutputBytes; saved > 0 {
		s.metrics.bytesSavedTotal.Add(float64(saved))
	}
}

type contextKey struct{ name string }

var requestIDKey = contextKey{"request-id"}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = id.New()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return "unknown"
}

// withRecovery keeps a panic in one request's handling from taking down the
// process or other in-flight conversions.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("panic recovered request_id=%s path=%s err=%v",
					requestIDFrom(r.Context()), r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

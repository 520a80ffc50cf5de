package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/openctemio/webhooks/pkg/apierror"
)

// DefaultMaxBodySize applies when BodyLimit is given zero.
const DefaultMaxBodySize = 1 << 20

var errZipBomb = errors.New("compression ratio exceeds limit")

// DecompressConfig bounds what a compressed request body may expand to.
type DecompressConfig struct {
	MaxCompressedSize   int64
	MaxDecompressedSize int64
	// MaxCompressionRatio is decoded/encoded size. Bodies above it are refused.
	MaxCompressionRatio float64
	AllowedEncodings    []string
}

// DefaultDecompressConfig accepts gzip and zstd up to 1 MiB in, 4 MiB out, 100:1.
func DefaultDecompressConfig() *DecompressConfig {
	return &DecompressConfig{
		MaxCompressedSize:   1 << 20,
		MaxDecompressedSize: 4 << 20,
		MaxCompressionRatio: 100,
		AllowedEncodings:    []string{"gzip", "zstd"},
	}
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// BodyLimit caps request bodies at maxBytes. Declared oversize bodies are
// refused up front; chunked ones fail on read with an *http.MaxBytesError.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBody(r) {
				if r.ContentLength > maxBytes {
					HandleBodyLimitError(w, r)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from BodyLimit.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// HandleBodyLimitError writes the 413 envelope.
func HandleBodyLimitError(w http.ResponseWriter, _ *http.Request) {
	apierror.PayloadTooLarge("Request body too large").WriteJSON(w)
}

// Decompress inflates gzip or zstd request bodies in place. It runs before
// BodyLimit so the limit sees the decoded size.
func Decompress(cfg *DecompressConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = DefaultDecompressConfig()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedEncodings))
	for _, enc := range cfg.AllowedEncodings {
		allowed[strings.ToLower(enc)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
			if !hasBody(r) || encoding == "" || encoding == "identity" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[encoding]; !ok {
				apierror.New(http.StatusUnsupportedMediaType, apierror.CodeBadRequest,
					"Unsupported Content-Encoding: "+encoding).WriteJSON(w)
				return
			}

			body, err := inflate(r.Body, encoding, cfg)
			if err != nil {
				apierror.BadRequest("Invalid compressed request body").WriteJSON(w)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.Header.Del("Content-Encoding")
			next.ServeHTTP(w, r)
		})
	}
}

func inflate(body io.ReadCloser, encoding string, cfg *DecompressConfig) ([]byte, error) {
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, cfg.MaxCompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("read compressed body: %w", err)
	}
	if int64(len(raw)) > cfg.MaxCompressedSize {
		return nil, fmt.Errorf("compressed body over %d bytes", cfg.MaxCompressedSize)
	}
	if len(raw) == 0 {
		return []byte{}, nil
	}

	var dec io.Reader
	switch encoding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gr.Close()
		dec = gr
	case "zstd":
		//nolint:gosec // MaxDecompressedSize is a positive byte count
		zr, err := zstd.NewReader(bytes.NewReader(raw),
			zstd.WithDecoderMaxMemory(uint64(cfg.MaxDecompressedSize)),
			zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		dec = zr
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}

	// The ratio ceiling is usually tighter than the size ceiling, so stop
	// reading as soon as either would be crossed.
	ceiling := int64(float64(len(raw)) * cfg.MaxCompressionRatio)
	ceiling = min(ceiling, cfg.MaxDecompressedSize)

	out, err := io.ReadAll(io.LimitReader(dec, ceiling+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if int64(len(out)) > ceiling {
		return nil, errZipBomb
	}
	return out, nil
}

package s3

import (
	"context"
	"crypto/md5" //nolint:gosec // ETags, not security
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/pkg/logger"
)

const testBucket = "hooks"

type fakeObject struct {
	body []byte
	etag string
}

// fakeS3 serves the path-style subset of the S3 API the store uses,
// including conditional writes and deletes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	gen     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (f *fakeS3) put(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.objects[key] = fakeObject{body: body, etag: f.etagFor(body)}
}

func (f *fakeS3) etagFor(body []byte) string {
	sum := md5.Sum(append([]byte(strconv.Itoa(f.gen)), body...)) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/"+testBucket)
	key := strings.TrimPrefix(path, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r.URL.Query())
	case key == "" && r.Method == http.MethodPost:
		f.deleteMany(w, r)
	case r.Method == http.MethodPut:
		f.putObject(w, r, key)
	case r.Method == http.MethodGet, r.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			writeS3Error(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("ETag", obj.etag)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	case r.Method == http.MethodDelete:
		obj, ok := f.objects[key]
		if match := r.Header.Get("If-Match"); match != "" {
			if !ok {
				writeS3Error(w, r, http.StatusNotFound, "NoSuchKey")
				return
			}
			if match != obj.etag {
				writeS3Error(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
				return
			}
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) putObject(w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "IncompleteBody")
		return
	}
	current, exists := f.objects[key]
	if r.Header.Get("If-None-Match") == "*" && exists {
		writeS3Error(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
		return
	}
	if match := r.Header.Get("If-Match"); match != "" {
		if !exists {
			writeS3Error(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		if match != current.etag {
			writeS3Error(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
	}
	f.gen++
	obj := fakeObject{body: body, etag: f.etagFor(body)}
	f.objects[key] = obj
	w.Header().Set("ETag", obj.etag)
	w.WriteHeader(http.StatusOK)
}

type listResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	Contents              []listContent  `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
}

type listContent struct {
	Key  string `xml:"Key"`
	ETag string `xml:"ETag"`
	Size int    `xml:"Size"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// list implements ListObjectsV2. The continuation token is the last key or
// common prefix returned.
func (f *fakeS3) list(w http.ResponseWriter, q map[string][]string) {
	get := func(name string) string {
		if v := q[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	prefix, delimiter := get("prefix"), get("delimiter")
	after, token := get("start-after"), get("continuation-token")
	maxKeys := 1000
	if n, err := strconv.Atoi(get("max-keys")); err == nil && n > 0 {
		maxKeys = n
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	res := listResult{Name: testBucket, Prefix: prefix, MaxKeys: maxKeys}
	var last string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || k <= after {
			continue
		}
		if token != "" && (k <= token || strings.HasPrefix(k, token)) {
			continue
		}
		entry, isPrefix := k, false
		if delimiter != "" {
			if i := strings.Index(k[len(prefix):], delimiter); i >= 0 {
				entry, isPrefix = k[:len(prefix)+i+len(delimiter)], true
			}
		}
		if entry == last {
			continue
		}
		if res.KeyCount == maxKeys {
			res.IsTruncated = true
			res.NextContinuationToken = last
			break
		}
		if isPrefix {
			res.CommonPrefixes = append(res.CommonPrefixes, commonPrefix{Prefix: entry})
		} else {
			res.Contents = append(res.Contents, listContent{Key: k, ETag: f.objects[k].etag, Size: len(f.objects[k].body)})
		}
		res.KeyCount++
		last = entry
	}
	writeXML(w, res)
}

func (f *fakeS3) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Objects []struct {
			Key string `xml:"Key"`
		} `xml:"Object"`
	}
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "MalformedXML")
		return
	}
	for _, o := range req.Objects {
		delete(f.objects, o.Key)
	}
	writeXML(w, struct {
		XMLName xml.Name `xml:"DeleteResult"`
	}{})
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

func writeS3Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}

// newTestClient points a client at endpoint with retries and checksum
// negotiation turned off.
func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	cfg := &config.S3Config{
		Bucket:    testBucket,
		Region:    "us-east-1",
		Prefix:    "webhooks",
		Endpoint:  endpoint,
		AccessKey: "test",
		SecretKey: "test",
	}
	client, err := New(context.Background(), cfg, logger.NewNop(), func(o *awss3.Options) {
		o.RetryMaxAttempts = 1
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	require.NoError(t, err)
	return client
}

func setupFakeS3(t *testing.T) (*fakeS3, *Client) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, newTestClient(t, srv.URL)
}

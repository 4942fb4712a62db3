package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of S3 calls the driver makes. Path-style
// requests only: /<bucket>/<key>.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}

	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag-` + key + `"`},
			"Last-Modified":  {time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, h, nil), nil
		}
		return respond(http.StatusOK, h, obj.body), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, http.Header{"Etag": {`"etag"`}}, nil), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-03-02T08:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

// decodeChunked unwraps a single-chunk aws-chunked body: <hex>\r\n<data>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeS3(t *testing.T) *S3 {
	t.Helper()
	store, err := NewS3(context.Background(), S3Config{
		Bucket:          "clinic-test",
		Region:          "us-east-1",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		HTTPClient:      &http.Client{Transport: &fakeS3{objects: map[string]fakeObject{}}},
	})
	require.NoError(t, err)
	return store
}

func TestS3_PutGetHead(t *testing.T) {
	store := newFakeS3(t)
	ctx := context.Background()
	assert.Equal(t, DriverS3, store.Driver())

	info, err := store.Put(ctx, "encounters/e1/a1", bytes.NewReader([]byte("cbc-report")), PutOptions{ContentType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.Equal(t, "etag-encounters/e1/a1", info.ETag)

	got, rc, err := store.Get(ctx, "encounters/e1/a1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "cbc-report", string(data))
	assert.Equal(t, int64(10), got.Size)

	_, err = store.Put(ctx, "encounters/e1/a1", bytes.NewReader([]byte("again")), PutOptions{})
	assert.True(t, errors.Is(err, ErrExists))
}

func TestS3_NotFound(t *testing.T) {
	store := newFakeS3(t)
	ctx := context.Background()

	_, err := store.Head(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "head: %v", err)
	_, _, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "get: %v", err)
	assert.True(t, errors.Is(store.Delete(ctx, "missing"), ErrNotFound))
}

func TestS3_ListAndDelete(t *testing.T) {
	store := newFakeS3(t)
	ctx := context.Background()
	for _, k := range []string{"encounters/e1/b", "encounters/e1/a", "encounters/e2/a"} {
		_, err := store.Put(ctx, k, bytes.NewReader([]byte(k)), PutOptions{})
		require.NoError(t, err)
	}

	items, err := store.List(ctx, "encounters/e1/")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "encounters/e1/a", items[0].Key)

	require.NoError(t, store.Delete(ctx, "encounters/e1/a"))
	items, err = store.List(ctx, "encounters/e1/")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

package blobstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "attachments/PRV1/42/PRV1_42_a1/scan.pdf",
		ObjectKey("PRV1", 42, "PRV1_42_a1", `C:\docs\scan.pdf`))
	assert.Equal(t, "attachments/PRV1/42/x/x.dat", ObjectKey("PRV1", 42, "x", ""))
	assert.Equal(t, "attachments/PRV1/1/a/my%20file.png", ObjectKey("PRV1", 1, "a", "dir/my file.png"))
}

func TestObjectURL(t *testing.T) {
	c := &Config{BucketName: "b", Region: "eu-central-1"}
	assert.Equal(t, "https://b.s3.eu-central-1.amazonaws.com/k", c.ObjectURL("k"))

	c.EndpointURL = "http://minio:9000/"
	assert.Equal(t, "http://minio:9000/b/k", c.ObjectURL("k"))

	c.PublicBaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/k", c.ObjectURL("k"))
}

func TestConfigValidation(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{AccessKeyID: "a", SecretAccessKey: "s"}).Validate())
	assert.NoError(t, (&Config{AccessKeyID: "a", SecretAccessKey: "s", BucketName: "b"}).Validate())

	_, err := NewClient(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("a.pdf"))
	assert.Equal(t, "application/octet-stream", ContentType("a.unknownext"))
}

// fakeS3 answers the path-style bucket and object calls the client makes.
// HEAD on an object reports headSize instead of the stored length when set.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	headSize string
	headFail bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	isBucket := strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0
	switch {
	case r.Method == http.MethodHead && isBucket:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		body, ok := f.objects[r.URL.Path]
		if !ok || f.headFail {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		size := strconv.Itoa(len(body))
		if f.headSize != "" {
			size = f.headSize
		}
		w.Header().Set("Content-Length", size)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, fake *fakeS3) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), &Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		BucketName:      "claims",
		EndpointURL:     srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestUploadReturnsStoredSize(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, headSize: "4096"}
	client := newTestClient(t, fake)

	url, size, err := client.Upload(context.Background(), "attachments/PRV1/1/a1/note.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
	assert.True(t, strings.HasSuffix(url, "/claims/attachments/PRV1/1/a1/note.txt"), url)
	assert.Equal(t, "hello", string(fake.objects["/claims/attachments/PRV1/1/a1/note.txt"]))
}

func TestUploadFallsBackToLocalSize(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, headFail: true}
	client := newTestClient(t, fake)

	_, size, err := client.Upload(context.Background(), "attachments/PRV1/1/a1/note.txt", "", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

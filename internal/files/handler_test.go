package files

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryMetadata struct {
	byPath map[string]*ResultFile
}

func (m *memoryMetadata) Create(_ context.Context, in ResultFile) (*ResultFile, error) {
	in.ID = fmt.Sprintf("file-%d", len(m.byPath)+1)
	in.CreatedAt = time.Now().UTC()
	m.byPath[in.StoragePath] = &in
	return &in, nil
}

func (m *memoryMetadata) GetByPath(_ context.Context, storagePath string) (*ResultFile, error) {
	f, ok := m.byPath[storagePath]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func newFilesHandler(maxBytes int64) (*Handler, *mockS3Client, *memoryMetadata) {
	client := newMockS3()
	meta := &memoryMetadata{byPath: map[string]*ResultFile{}}
	h := NewHandler(HandlerConfig{
		Store:    meta,
		Storage:  NewS3Storage(client, &mockPresigner{}, "bucket"),
		MaxBytes: maxBytes,
		URLTTL:   30 * time.Minute,
	})
	return h, client, meta
}

func uploadBody(t *testing.T, items ...uploadItem) *strings.Reader {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return strings.NewReader(string(raw))
}

func TestUploadStoresFilesAndMetadata(t *testing.T) {
	h, client, _ := newFilesHandler(1024)
	body := uploadBody(t,
		uploadItem{Name: "report.pdf", Data: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), Type: "application/pdf"},
		uploadItem{Name: "scan.png", Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))},
	)
	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/files/upload", body))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Files []ResultFile `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.Equal(t, int64(8), resp.Files[0].FileSize)
	assert.True(t, strings.HasPrefix(resp.Files[0].StoragePath, "results/"))
	assert.True(t, strings.HasSuffix(resp.Files[0].StoragePath, "-report.pdf"))
	assert.Equal(t, "image/png", resp.Files[1].FileType)
	assert.Len(t, client.objects, 2)
}

func TestUploadRejectsOversizedFileBeforeAnyWrite(t *testing.T) {
	h, client, _ := newFilesHandler(16)
	body := uploadBody(t,
		uploadItem{Name: "small.txt", Data: base64.StdEncoding.EncodeToString([]byte("ok"))},
		uploadItem{Name: "big.txt", Data: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 17)))},
	)
	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/files/upload", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
	assert.Empty(t, client.objects)
}

func TestUploadRejectsBadInput(t *testing.T) {
	h, _, _ := newFilesHandler(1024)
	cases := []string{
		`[]`,
		`[{"name":"a.pdf","data":"!!!not base64"}]`,
		`[{"name":"","data":"YQ=="}]`,
		`{"name":"a.pdf"}`,
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/files/upload", strings.NewReader(c)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, c)
	}
}

func TestSignedURL(t *testing.T) {
	h, _, _ := newFilesHandler(1024)
	rec := httptest.NewRecorder()
	h.SignedURL(rec, httptest.NewRequest(http.MethodGet, "/api/files/url?path=results/2024/03/x-a.pdf", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://bucket.s3.test/results/2024/03/x-a.pdf?sig=1","expires_in":1800}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.SignedURL(rec, httptest.NewRequest(http.MethodGet, "/api/files/url", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadKeepsOriginalName(t *testing.T) {
	h, client, meta := newFilesHandler(1024)
	client.objects["results/2024/03/uuid-bilan.pdf"] = []byte("%PDF")
	client.types["results/2024/03/uuid-bilan.pdf"] = "application/pdf"
	meta.byPath["results/2024/03/uuid-bilan.pdf"] = &ResultFile{FileName: "bilan.pdf", FileType: "application/pdf"}

	rec := httptest.NewRecorder()
	h.Download(rec, httptest.NewRequest(http.MethodGet, "/api/files/download?path=results/2024/03/uuid-bilan.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=bilan.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF", rec.Body.String())

	client.objects["results/orphan.txt"] = []byte("x")
	client.types["results/orphan.txt"] = ""
	rec = httptest.NewRecorder()
	h.Download(rec, httptest.NewRequest(http.MethodGet, "/api/files/download?path=results/orphan.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=orphan.txt", rec.Header().Get("Content-Disposition"))

	rec = httptest.NewRecorder()
	h.Download(rec, httptest.NewRequest(http.MethodGet, "/api/files/download?path=results/none", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

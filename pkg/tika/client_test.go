package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ReturnsSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-raw", string(body))
		_, _ = w.Write([]byte("  extracted text\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-raw"), 0o600))

	doc, err := NewClient(srv.URL+"/", time.Second).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", doc.Name)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, "extracted text", doc.Pages[0].Text)
}

func TestExtractText_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ExtractText(context.Background(), nil, "x.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMimeType("a.pdf"))
	assert.Equal(t, "application/octet-stream", detectMimeType("noext"))
}

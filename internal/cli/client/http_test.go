package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReader_ReportsProgress(t *testing.T) {
	data := []byte("hello world this is test data")
	reader := bytes.NewReader(data)

	var progressCalls []struct{ current, total int64 }
	pr := &progressReader{
		reader: reader,
		total:  int64(len(data)),
		onProgress: func(current, total int64) {
			progressCalls = append(progressCalls, struct{ current, total int64 }{current, total})
		},
	}

	result, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, result)

	// Progress should have been called at least once
	assert.NotEmpty(t, progressCalls)

	// Final progress should equal total
	lastCall := progressCalls[len(progressCalls)-1]
	assert.Equal(t, int64(len(data)), lastCall.current)
	assert.Equal(t, int64(len(data)), lastCall.total)
}

func TestProgressReader_NilCallback(t *testing.T) {
	data := []byte("hello world")
	reader := bytes.NewReader(data)

	pr := &progressReader{
		reader:     reader,
		total:      int64(len(data)),
		onProgress: nil, // No callback
	}

	result, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, result)
}

func TestProgressReader_SmallReads(t *testing.T) {
	data := []byte("hello world")
	reader := bytes.NewReader(data)

	var progressValues []int64
	pr := &progressReader{
		reader: reader,
		total:  int64(len(data)),
		onProgress: func(current, total int64) {
			progressValues = append(progressValues, current)
		},
	}

	// Read one byte at a time
	buf := make([]byte, 1)
	for {
		n, err := pr.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	// Progress should increase monotonically
	for i := 1; i < len(progressValues); i++ {
		assert.GreaterOrEqual(t, progressValues[i], progressValues[i-1])
	}
}

// newTestRoot builds a root command with the persistent flags main sets.
func newTestRoot(sub *cobra.Command, apiURL string) *cobra.Command {
	root := &cobra.Command{Use: "medindex", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().Bool("output", false, "Output as JSON")
	root.PersistentFlags().String("api-url", apiURL, "API base URL")
	root.AddCommand(sub)
	return root
}

func TestNewAPIClientWithCmd_Precedence(t *testing.T) {
	t.Setenv(envAPIURL, "http://from-env:9000")

	api, err := NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:9000", api.baseURL)

	cmd := &cobra.Command{}
	cmd.Flags().String("api-url", "", "")
	require.NoError(t, cmd.Flags().Set("api-url", "http://from-flag:9001"))
	api, err = NewAPIClientWithCmd(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:9001", api.baseURL)
}

func TestNewAPIClientWithCmd_Default(t *testing.T) {
	t.Setenv(envAPIURL, "")
	t.Chdir(t.TempDir())

	api, err := NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, api.baseURL)
}

func TestAPIClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/doc-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"doc-1","status":"indexed"}}`))
	}))
	defer srv.Close()

	resp, err := NewAPIClientWithConfig(srv.URL).Get("/documents/doc-1")
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(resp.Data, &doc))
	assert.Equal(t, "indexed", doc.Status)
}

func TestAPIClient_ErrorWithFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"validation failed","fields":{"category":"failed on 'required' tag"}}`))
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL).Post("/documents", map[string]string{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "failed on 'required' tag", apiErr.Fields["category"])
	assert.Contains(t, err.Error(), "category")
}

func TestAPIClient_ErrorWithCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"retrieval unavailable","code":"RETRIEVAL_UNAVAILABLE"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL).Post("/answer", map[string]string{"query": "x"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "RETRIEVAL_UNAVAILABLE", apiErr.Code)
}

func TestAPIClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL).Get("/health")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "bad gateway")
}

func TestAPIClient_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewAPIClientWithConfig(srv.URL).Delete("/documents/doc-1")
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestAPIClient_UploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 test"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "cardiology", r.FormValue("category"))
		_, hasTitle := r.MultipartForm.Value["title"]
		assert.False(t, hasTitle, "empty fields are not sent")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "review.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.7 test", string(raw))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"document_id":"doc-1","status":"queued","created":true}}`))
	}))
	defer srv.Close()

	var last int64
	resp, err := NewAPIClientWithConfig(srv.URL).UploadFile("/documents", path, contentTypeFor(path),
		map[string]string{"category": "cardiology", "title": ""},
		func(current, total int64) { last = current })
	require.NoError(t, err)
	assert.Positive(t, last)

	var result SubmitResponse
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Created)
}

func TestSearchCmd_SendsFilters(t *testing.T) {
	var got SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{"results":[],"alpha":0.2,"degraded":false}}`))
	}))
	defer srv.Close()

	root := newTestRoot(SearchCmd(), srv.URL)
	root.SetArgs([]string{"search", "warfarin interactions", "-k", "3", "--alpha", "0.2", "-c", "hematology", "--output"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "warfarin interactions", got.Query)
	assert.Equal(t, 3, got.TopK)
	require.NotNil(t, got.Alpha)
	assert.Equal(t, 0.2, *got.Alpha)
	assert.Equal(t, "hematology", got.Category)
}

func TestSearchCmd_AlphaOmittedByDefault(t *testing.T) {
	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"data":{"results":[],"alpha":0.5}}`))
	}))
	defer srv.Close()

	root := newTestRoot(SearchCmd(), srv.URL)
	root.SetArgs([]string{"search", "asthma", "--output"})
	require.NoError(t, root.Execute())

	_, hasAlpha := raw["alpha"]
	assert.False(t, hasAlpha)
}

func TestFeedbackCmd_RejectsBadRating(t *testing.T) {
	root := newTestRoot(FeedbackCmd(), "http://127.0.0.1:1")
	root.SetArgs([]string{"feedback", "doc-1", "7"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 to 5")
}

func TestPurgeCmd_RequiresForce(t *testing.T) {
	root := newTestRoot(PurgeCmd(), "http://127.0.0.1:1")
	root.SetArgs([]string{"purge", "doc-1"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestAdminIntegrityCmd_Rebuild(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"ok":true,"rebuilt":true,"issues":[]}}`))
	}))
	defer srv.Close()

	root := newTestRoot(AdminCmd(), srv.URL)
	root.SetArgs([]string{"admin", "integrity", "--rebuild", "--output"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "/admin/integrity/rebuild", path)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("a/b/Review.PDF"))
	assert.Equal(t, "text/plain", contentTypeFor("notes.txt"))
	assert.Equal(t, "text/plain", contentTypeFor("README"))
}

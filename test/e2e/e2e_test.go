//go:build e2e

package e2e

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/jobs"
	"github.com/cloo-solutions/medindex/internal/repository"
	"github.com/cloo-solutions/medindex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hypertensionAbstract = `Hypertension affects roughly a third of adults and remains the leading
modifiable risk factor for stroke. In this cohort, intensive control of hypertension
reduced cardiovascular events compared with standard targets over five years.`

const insulinAbstract = `Basal insulin titration guided by fasting glucose improved glycaemic control
in adults with type 2 diabetes. Weekly insulin adjustments were well tolerated and
hypoglycaemia was rare when the dose was increased in small steps.`

func submit(t *testing.T, env *E2ETestEnv, content, sourceURI, category string) string {
	t.Helper()
	resp, err := env.Post("/documents", map[string]string{
		"content":    content,
		"source_uri": sourceURI,
		"category":   category,
	})
	require.NoError(t, err)

	var result struct {
		DocumentID string `json:"document_id"`
		Created    bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.NotEmpty(t, result.DocumentID)
	return result.DocumentID
}

type searchResults struct {
	Results []struct {
		DocumentID string  `json:"document_id"`
		Text       string  `json:"text"`
		Score      float64 `json:"score"`
	} `json:"results"`
	Degraded bool `json:"degraded"`
}

func search(t *testing.T, env *E2ETestEnv, body map[string]interface{}) searchResults {
	t.Helper()
	resp, err := env.Post("/search", body)
	require.NoError(t, err)
	var out searchResults
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func TestE2E_DocumentLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	hyperID := submit(t, env, hypertensionAbstract, "https://pubmed.example/1", "cardiology")
	insulinID := submit(t, env, insulinAbstract, "https://pubmed.example/2", "endocrinology")

	t.Run("duplicate submission returns the existing document", func(t *testing.T) {
		resp, err := env.Post("/documents", map[string]string{
			"content":    hypertensionAbstract,
			"source_uri": "https://mirror.example/1",
			"category":   "cardiology",
		})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var result struct {
			DocumentID string `json:"document_id"`
			Created    bool   `json:"created"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.Equal(t, hyperID, result.DocumentID)
		assert.False(t, result.Created)
	})

	env.DrainQueue()

	t.Run("documents are indexed", func(t *testing.T) {
		for _, id := range []string{hyperID, insulinID} {
			resp, err := env.Get("/documents/" + id)
			require.NoError(t, err)
			var doc struct {
				Status     string `json:"status"`
				ChunkCount int    `json:"chunk_count"`
			}
			require.NoError(t, json.Unmarshal(resp.Data, &doc))
			assert.Equal(t, "indexed", doc.Status)
			assert.Greater(t, doc.ChunkCount, 0)
		}
		assert.Equal(t, 2, env.Index.Stats().Active)
	})

	t.Run("hybrid search ranks the matching document first", func(t *testing.T) {
		out := search(t, env, map[string]interface{}{"query": "insulin dose", "top_k": 5})
		require.NotEmpty(t, out.Results)
		assert.False(t, out.Degraded)
		assert.Equal(t, insulinID, out.Results[0].DocumentID)
	})

	t.Run("category filter", func(t *testing.T) {
		out := search(t, env, map[string]interface{}{"query": "insulin", "category": "cardiology"})
		for _, r := range out.Results {
			assert.Equal(t, hyperID, r.DocumentID)
		}
	})

	t.Run("feedback adjusts the weight", func(t *testing.T) {
		resp, err := env.Post("/feedback", map[string]interface{}{"document_id": hyperID, "rating": 5})
		require.NoError(t, err)
		var fb struct {
			Weight float64 `json:"weight"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &fb))
		assert.Greater(t, fb.Weight, 1.0)

		_, err = env.Post("/feedback", map[string]interface{}{"document_id": hyperID, "rating": 9})
		assert.Error(t, err)
	})

	t.Run("raw bytes download through a presigned URL", func(t *testing.T) {
		resp, err := env.Get("/documents/" + insulinID + "/download")
		require.NoError(t, err)
		var dl struct {
			DownloadURL string `json:"download_url"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &dl))

		data, err := env.DownloadFile(dl.DownloadURL)
		require.NoError(t, err)
		assert.Equal(t, SHA256Sum([]byte(insulinAbstract)), SHA256Sum(data))
	})

	t.Run("integrity check passes", func(t *testing.T) {
		resp, err := env.Post("/admin/integrity/check", nil)
		require.NoError(t, err)
		var report struct {
			OK       bool `json:"ok"`
			Expected int  `json:"expected"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &report))
		assert.True(t, report.OK)
		assert.Equal(t, 2, report.Expected)
	})

	t.Run("deactivate hides the document", func(t *testing.T) {
		_, err := env.Post("/documents/"+insulinID+"/deactivate", nil)
		require.NoError(t, err)

		out := search(t, env, map[string]interface{}{"query": "insulin dose"})
		for _, r := range out.Results {
			assert.NotEqual(t, insulinID, r.DocumentID)
		}
	})

	t.Run("purge removes rows and bytes", func(t *testing.T) {
		resp, err := env.Delete("/documents/" + insulinID)
		require.NoError(t, err)
		assert.Equal(t, 204, resp.StatusCode)

		resp, err = env.Get("/documents/" + insulinID)
		require.Error(t, err)
		assert.Equal(t, 404, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", resp.Code)

		var chunks int
		require.NoError(t, env.Pool.QueryRow(env.Ctx, "SELECT count(*) FROM chunks WHERE document_id = $1", insulinID).Scan(&chunks))
		assert.Zero(t, chunks)

		_, err = env.S3Client.HeadObject(env.Ctx, storage.DocumentKey(insulinID))
		assert.Error(t, err)
	})
}

func TestE2E_IndexRebuiltFromDatabase(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	id := submit(t, env, hypertensionAbstract, "https://pubmed.example/1", "cardiology")
	env.DrainQueue()

	// a fresh process starts with an empty index
	fresh := index.New(testDims)
	monitor := jobs.NewIntegrityMonitor(
		repository.NewChunkRepository(env.Pool),
		repository.NewEmbeddingRepository(env.Pool),
		fresh, testModel, 0,
	)

	report, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Rebuilt)
	assert.True(t, report.OK)
	assert.Equal(t, env.Index.Stats().Active, fresh.Stats().Active)

	hits, err := fresh.Query(keywordEmbedder{}.embed("hypertension"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].DocumentID)
}

func TestE2E_DeadLetterRedrive(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	// bytes labelled as PDF that are not a PDF fail extraction, which is
	// never retried
	resp, err := env.Post("/documents", map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString([]byte("not a pdf at all")),
		"content_type":   "application/pdf",
		"source_uri":     "https://pubmed.example/broken.pdf",
		"category":       "cardiology",
	})
	require.NoError(t, err)
	var submitted struct {
		DocumentID string `json:"document_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	id := submitted.DocumentID
	env.DrainQueue()

	resp, err = env.Get("/documents/" + id)
	require.NoError(t, err)
	var doc struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &doc))
	require.Equal(t, "failed", doc.Status)

	resp, err = env.Get("/admin/dead-letters")
	require.NoError(t, err)
	var dead []struct {
		ID         string `json:"id"`
		DocumentID string `json:"document_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &dead))
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].DocumentID)

	resp, err = env.Post("/admin/dead-letters/"+dead[0].ID+"/redrive", nil)
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)

	resp, err = env.Get("/documents/" + id)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &doc))
	assert.Equal(t, "queued", doc.Status)
}

func TestE2E_CLIWorkflow(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.BuildBinaries()

	workDir := t.TempDir()
	path := filepath.Join(workDir, "hypertension.txt")
	require.NoError(t, os.WriteFile(path, []byte(hypertensionAbstract), 0o644))

	var docID string
	t.Run("submit", func(t *testing.T) {
		out, err := env.RunMedindex(workDir, "submit", path, "--category", "cardiology", "--output")
		require.NoError(t, err, out)

		var result struct {
			DocumentID string `json:"document_id"`
			Created    bool   `json:"created"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &result), out)
		assert.True(t, result.Created)
		docID = result.DocumentID
	})

	env.DrainQueue()

	t.Run("list", func(t *testing.T) {
		out, err := env.RunMedindex(workDir, "list", "--status", "indexed")
		require.NoError(t, err, out)
		assert.Contains(t, out, docID)
	})

	t.Run("search", func(t *testing.T) {
		out, err := env.RunMedindex(workDir, "search", "hypertension stroke", "-k", "3", "--output")
		require.NoError(t, err, out)
		assert.Contains(t, out, docID)
	})

	t.Run("download", func(t *testing.T) {
		target := filepath.Join(workDir, "copy.txt")
		out, err := env.RunMedindex(workDir, "download", docID, "-O", target)
		require.NoError(t, err, out)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, hypertensionAbstract, string(data))
	})

	t.Run("purge requires force", func(t *testing.T) {
		out, err := env.RunMedindex(workDir, "purge", docID)
		assert.Error(t, err)
		assert.True(t, strings.Contains(out, "--force"), out)

		out, err = env.RunMedindex(workDir, "purge", docID, "--force")
		require.NoError(t, err, out)
	})
}

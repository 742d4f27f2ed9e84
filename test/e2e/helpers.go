//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/medindex/internal/api/handlers"
	"github.com/cloo-solutions/medindex/internal/chunking"
	"github.com/cloo-solutions/medindex/internal/embedding"
	"github.com/cloo-solutions/medindex/internal/extract"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/jobs"
	"github.com/cloo-solutions/medindex/internal/quality"
	"github.com/cloo-solutions/medindex/internal/repository"
	"github.com/cloo-solutions/medindex/internal/server"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/cloo-solutions/medindex/internal/storage"
	"github.com/cloo-solutions/medindex/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	testModel = "keyword-e2e"
	testDims  = 4
)

// keywordEmbedder embeds text as counts of a few clinical keywords, so
// similarity is predictable without an embedding provider.
type keywordEmbedder struct{}

var keywords = []string{"hypertension", "insulin", "asthma"}

func (keywordEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, testDims)
	for i, k := range keywords {
		v[i] = float32(strings.Count(lower, k))
	}
	v[testDims-1] = 0.1
	return v
}

func (e keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e keywordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	Index        *index.Index
	Ingestion    *jobs.IngestionWorker
	Integrity    *jobs.IntegrityMonitor
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// startServer wires the engine over Postgres and S3 the way medindexd does,
// with a deterministic embedder.
func (e *E2ETestEnv) startServer(port int) (string, func()) {
	pool := e.Pool
	tx := repository.NewTxRunner(pool)
	docs := repository.NewDocumentRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	embeddings := repository.NewEmbeddingRepository(pool)
	jobRepo := repository.NewIngestionJobRepository(pool)
	feedback := repository.NewFeedbackRepository(pool)
	blobs := storage.NewBlobStore(e.S3Client)

	e.Index = index.New(testDims)
	emb := keywordEmbedder{}

	pipeline := service.NewPipeline(service.PipelineDeps{
		Documents:    docs,
		Blobs:        blobs,
		Chunks:       chunks,
		Embeddings:   embeddings,
		Extractor:    extract.New(),
		Gate:         quality.NewHeuristicGate(quality.DefaultConfig(), nil),
		Batcher:      embedding.NewBatcher(emb, embedding.Config{BatchSize: 16, Dimensions: testDims}),
		Index:        e.Index,
		ModelVersion: testModel,
		Chunking:     chunking.DefaultConfig(),
	})
	e.Ingestion = jobs.NewIngestionWorker(jobRepo, tx, pipeline, jobs.IngestionWorkerConfig{})
	e.Integrity = jobs.NewIntegrityMonitor(chunks, embeddings, e.Index, testModel, 0)

	ingest := service.NewIngestService(tx, docs, blobs, e.Index)
	docSvc := service.NewDocumentService(tx, docs, blobs, chunks, jobRepo, feedback, e.Index)
	search := service.NewSearchService(docs, chunks, feedback, e.Index, emb, nil, service.SearchConfig{DefaultAlpha: 0.5})

	router := server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(ingest, docSvc, blobs),
		SearchHandler:   handlers.NewSearchHandler(search),
		FeedbackHandler: handlers.NewFeedbackHandler(service.NewFeedbackService(feedback)),
		AdminHandler:    handlers.NewAdminHandler(docSvc, e.Integrity, nil),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// DrainQueue runs the ingestion worker until no job is claimed.
func (e *E2ETestEnv) DrainQueue() {
	for i := 0; i < 10; i++ {
		var queued int
		if err := e.Pool.QueryRow(e.Ctx, "SELECT count(*) FROM ingestion_jobs WHERE state = 'queued'").Scan(&queued); err != nil {
			e.T.Fatalf("failed to count queued jobs: %v", err)
		}
		if queued == 0 {
			return
		}
		if err := e.Ingestion.ProcessJobs(e.Ctx); err != nil {
			e.T.Fatalf("ingestion failed: %v", err)
		}
	}
	e.T.Fatalf("ingestion queue did not drain")
}

// BuildBinaries builds the medindex CLI
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "medindex-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "medindex"), "./cmd/medindex")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build medindex: %v\n%s", err, out)
	}
}

// RunMedindex runs the medindex CLI command
func (e *E2ETestEnv) RunMedindex(workDir string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "medindex"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("MEDINDEX_API_URL=%s", e.ServerURL))
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{StatusCode: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}

	if resp.StatusCode >= 400 {
		return &apiResp, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return &apiResp, nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SHA256Sum calculates SHA256 hash of data
func SHA256Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/medindex/internal/chunking"
	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/embedding"
	"github.com/cloo-solutions/medindex/internal/extract"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/quality"
	"github.com/cloo-solutions/medindex/internal/repository/memory"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/stretchr/testify/require"
)

const testModel = "topic-embedder-v1"

// topics are the axes of topicEmbedder vectors.
var topics = []string{"hypertension", "diabetes", "asthma", "warfarin"}

// topicEmbedder embeds text as topic term counts plus a small bias, so
// vectors are deterministic and never zero.
type topicEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	// fail, when set, decides per call whether the batch fails.
	fail func(texts []string) error
}

func embedTopics(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(topics)+1)
	for i, t := range topics {
		v[i] = float32(strings.Count(lower, t))
	}
	v[len(topics)] = 0.05
	return v
}

func (e *topicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	fail := e.fail
	e.mu.Unlock()

	if fail != nil {
		if err := fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedTopics(t)
	}
	return out, nil
}

func (e *topicEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *topicEmbedder) embeddedTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// harness wires the services over the in-memory store.
type harness struct {
	store    *memory.Store
	index    *index.Index
	embedder *topicEmbedder
	deps     service.PipelineDeps
	pipeline *service.Pipeline
	ingest   *service.IngestService
	search   *service.SearchService
	docs     *service.DocumentService
	feedback *service.FeedbackService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	idx := index.New(len(topics) + 1)
	emb := &topicEmbedder{}

	batcher := embedding.NewBatcher(emb, embedding.Config{
		BatchSize:      2,
		MaxInFlight:    2,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Dimensions:     len(topics) + 1,
	})

	h := &harness{store: store, index: idx, embedder: emb}
	h.deps = service.PipelineDeps{
		Documents:    store.Documents(),
		Blobs:        store.Blobs(),
		Chunks:       store.Chunks(),
		Embeddings:   store.Embeddings(),
		Extractor:    extract.New(),
		Gate:         quality.NewHeuristicGate(quality.DefaultConfig(), nil),
		Batcher:      batcher,
		Index:        idx,
		ModelVersion: testModel,
		Chunking:     chunking.DefaultConfig(),
	}
	h.pipeline = service.NewPipeline(h.deps)
	h.ingest = service.NewIngestService(store, store.Documents(), store.Blobs(), idx)
	h.search = service.NewSearchService(store.Documents(), store.Chunks(), store.Feedback(), idx, emb, nil, service.SearchConfig{DefaultAlpha: 0.5})
	h.docs = service.NewDocumentService(store, store.Documents(), store.Blobs(), store.Chunks(), store.Jobs(), store.Feedback(), idx)
	h.feedback = service.NewFeedbackService(store.Feedback())
	return h
}

// Paragraphs long enough to pass the default quality gate, each about a
// single topic.
const (
	paraHypertension = "Hypertension affects a large share of adults and remains the leading modifiable risk factor for stroke. Hypertension control targets were lowered in recent guidelines."
	paraDiabetes     = "Type 2 diabetes management starts with lifestyle change and metformin. Diabetes outcomes improve when glycated haemoglobin is kept below seven percent in most adults."
	paraAsthma       = "Asthma exacerbations in children are reduced by inhaled corticosteroids. Asthma action plans help caregivers recognise worsening symptoms early and seek care."
	shortNote        = "See appendix for tables."
)

func threeParagraphs() string {
	return paraHypertension + "\n\n" + paraDiabetes + "\n\n" + paraAsthma
}

// submit queues a plain-text document and returns its ID.
func (h *harness) submit(t *testing.T, text, category string) string {
	t.Helper()
	res, err := h.ingest.Submit(context.Background(), service.SubmitInput{
		Raw:         []byte(text),
		SourceURI:   "https://literature.example/" + category,
		Title:       category + " review",
		Category:    category,
		ContentType: extract.ContentTypePlain,
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.DocumentID
}

// ingest submits and processes a document.
func (h *harness) ingestDoc(t *testing.T, text, category string) string {
	t.Helper()
	id := h.submit(t, text, category)
	_, err := h.pipeline.Process(context.Background(), id)
	require.NoError(t, err)
	return id
}

func (h *harness) status(t *testing.T, id string) domain.DocumentStatus {
	t.Helper()
	doc, err := h.store.Documents().GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc.Status
}

func alpha(v float64) *float64 { return &v }

package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cloo-solutions/medindex/internal/api/handlers"
	"github.com/cloo-solutions/medindex/internal/config"
	"github.com/cloo-solutions/medindex/internal/database"
	"github.com/cloo-solutions/medindex/internal/embedding"
	"github.com/cloo-solutions/medindex/internal/extract"
	"github.com/cloo-solutions/medindex/internal/feed"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/jobs"
	"github.com/cloo-solutions/medindex/internal/openai"
	"github.com/cloo-solutions/medindex/internal/quality"
	"github.com/cloo-solutions/medindex/internal/repository"
	"github.com/cloo-solutions/medindex/internal/repository/memory"
	"github.com/cloo-solutions/medindex/internal/server"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/cloo-solutions/medindex/internal/storage"
	goopenai "github.com/sashabaranov/go-openai"
)

// stores groups the persistence layer, backed by Postgres or by memory.
type stores struct {
	tx         service.TxRunner
	documents  service.DocumentRepository
	blobs      service.BlobStore
	chunks     service.ChunkRepository
	embeddings service.EmbeddingRepository
	jobs       service.JobRepository
	feedback   service.FeedbackRepository
	close      func()
}

// app is the fully wired engine.
type app struct {
	router    http.Handler
	workers   []*jobs.Worker
	integrity *jobs.IntegrityMonitor
	close     func()
}

type appOptions struct {
	migrate bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	st, err := openStores(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	closers := []func(){st.close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		s3Client  *storage.S3Client
		downloads handlers.DownloadURLGenerator
	)
	if cfg.HasS3() {
		s3Client, err = newS3Client(ctx, cfg, cfg.S3Bucket, true)
		if err != nil {
			closeAll()
			return nil, err
		}
		blobStore := storage.NewBlobStore(s3Client)
		st.blobs = blobStore
		downloads = blobStore
		log.Printf("raw documents stored in S3 bucket '%s'", cfg.S3Bucket)
	}

	gate, err := newQualityGate(cfg)
	if err != nil {
		closeAll()
		return nil, err
	}

	idx := index.New(cfg.EmbeddingDimensions)
	modelVersion := cfg.EmbeddingModel

	var (
		queryEmbedder service.QueryEmbedder
		synth         service.Synthesizer
		batcher       service.EmbeddingBatcher
	)
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
		})
		modelVersion = client.ModelVersion()
		queryEmbedder = client
		synth = client
		batcher = embedding.NewBatcher(client, cfg.BatcherConfig())
	} else {
		log.Println("MEDINDEX_OPENAI_API_KEY not set: ingestion paused and search is lexical only")
	}

	ingest := service.NewIngestService(st.tx, st.documents, st.blobs, idx)
	docs := service.NewDocumentService(st.tx, st.documents, st.blobs, st.chunks, st.jobs, st.feedback, idx)
	search := service.NewSearchService(st.documents, st.chunks, st.feedback, idx, queryEmbedder, synth, service.SearchConfig{
		DefaultAlpha:        cfg.SearchAlpha,
		CandidateMultiplier: cfg.SearchCandidateMultiplier,
	})
	feedbackSvc := service.NewFeedbackService(st.feedback)
	integrity := jobs.NewIntegrityMonitor(st.chunks, st.embeddings, idx, modelVersion, cfg.IntegrityTolerance)

	a := &app{integrity: integrity, close: closeAll}

	if batcher != nil {
		pipeline := service.NewPipeline(service.PipelineDeps{
			Documents:    st.documents,
			Blobs:        st.blobs,
			Chunks:       st.chunks,
			Embeddings:   st.embeddings,
			Extractor:    extract.New(),
			Gate:         gate,
			Batcher:      batcher,
			Index:        idx,
			ModelVersion: modelVersion,
			Chunking:     cfg.ChunkingConfig(),
		})
		ingestion := jobs.NewIngestionWorker(st.jobs, st.tx, pipeline, jobs.IngestionWorkerConfig{
			BatchSize:  cfg.QueueBatchSize,
			MaxRetries: cfg.QueueMaxRetries,
			JobTimeout: cfg.QueueJobTimeout,
		})
		a.workers = append(a.workers, jobs.NewWorker("ingest", ingestion, cfg.QueuePollInterval, jobs.RunAtStart()))
	}
	a.workers = append(a.workers, jobs.NewWorker("integrity", integrity, cfg.IntegrityInterval))

	var feedSync handlers.FeedSyncer
	if cfg.HasFeed() {
		feedClient, err := newS3Client(ctx, cfg, cfg.FeedBucket, false)
		if err != nil {
			closeAll()
			return nil, err
		}
		syncer := jobs.NewFeedSync(feed.NewFetcher(feedClient), ingest, cfg.FeedTopics, cfg.FeedWindow)
		feedSync = syncer
		a.workers = append(a.workers, jobs.NewWorker("feed", syncer, cfg.FeedInterval))
		log.Printf("literature feed enabled for topics %v", cfg.FeedTopics)
	}

	a.router = server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(ingest, docs, downloads),
		SearchHandler:   handlers.NewSearchHandler(search),
		FeedbackHandler: handlers.NewFeedbackHandler(feedbackSvc),
		AdminHandler:    handlers.NewAdminHandler(docs, integrity, feedSync),
		MaxBodyBytes:    cfg.MaxUploadBytes,
	})

	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, opts appOptions) (*stores, error) {
	if !cfg.HasDatabase() {
		log.Println("MEDINDEX_DATABASE_URL not set: using in-memory storage")
		store := memory.NewStore()
		return &stores{
			tx:         store,
			documents:  store.Documents(),
			blobs:      store.Blobs(),
			chunks:     store.Chunks(),
			embeddings: store.Embeddings(),
			jobs:       store.Jobs(),
			feedback:   store.Feedback(),
			close:      func() {},
		}, nil
	}

	if opts.migrate {
		if err := database.Migrate(cfg.DatabaseURL, database.DefaultMigrationsSource); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DatabaseMaxConns,
		StatementTimeout: cfg.DatabaseStatementTimeout,
		ConnectTimeout:   cfg.DatabaseConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")

	return &stores{
		tx:         repository.NewTxRunner(pool),
		documents:  repository.NewDocumentRepository(pool),
		blobs:      repository.NewBlobRepository(pool),
		chunks:     repository.NewChunkRepository(pool),
		embeddings: repository.NewEmbeddingRepository(pool),
		jobs:       repository.NewIngestionJobRepository(pool),
		feedback:   repository.NewFeedbackRepository(pool),
		close:      pool.Close,
	}, nil
}

// newS3Client connects to bucket. ensure creates the bucket when missing.
func newS3Client(ctx context.Context, cfg *config.Config, bucket string, ensure bool) (*storage.S3Client, error) {
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if !ensure {
		return client, nil
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket %s: %w", bucket, err)
	}
	return client, nil
}

func newQualityGate(cfg *config.Config) (*quality.HeuristicGate, error) {
	var matcher quality.SignalMatcher
	if cfg.QualitySignalsFile != "" {
		km, err := quality.LoadKeywordMatcher(cfg.QualitySignalsFile)
		if err != nil {
			return nil, err
		}
		matcher = km
	}
	return quality.NewHeuristicGate(cfg.QualityConfig(), matcher), nil
}

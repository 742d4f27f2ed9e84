package service

import "context"

type testTxRepos struct {
	documents  DocumentRepository
	chunks     ChunkRepository
	embeddings EmbeddingRepository
	jobs       JobRepository
}

func (t *testTxRepos) Documents() DocumentRepository {
	return t.documents
}

func (t *testTxRepos) Chunks() ChunkRepository {
	return t.chunks
}

func (t *testTxRepos) Embeddings() EmbeddingRepository {
	return t.embeddings
}

func (t *testTxRepos) Jobs() JobRepository {
	return t.jobs
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	return fn(t.repos)
}

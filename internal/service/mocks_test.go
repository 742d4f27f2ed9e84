package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/pagination"
	"github.com/stretchr/testify/mock"
)

// MockDocumentRepository is a mock implementation of DocumentRepository
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, filter DocumentListFilter, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error) {
	args := m.Called(ctx, filter, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentPageResult), args.Error(1)
}

func (m *MockDocumentRepository) SearchableIDs(ctx context.Context, filter SearchFilters) ([]string, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, lastError string) error {
	args := m.Called(ctx, id, status, lastError)
	return args.Error(0)
}

func (m *MockDocumentRepository) Reset(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockBlobStore is a mock implementation of BlobStore
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, documentID string, raw []byte, contentType string) error {
	args := m.Called(ctx, documentID, raw, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, documentID string) ([]byte, string, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockBlobStore) Delete(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

// MockJobRepository is a mock implementation of JobRepository
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestionJob), args.Error(1)
}

func (m *MockJobRepository) Complete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRepository) Requeue(ctx context.Context, id string, attempts int, lastError string) error {
	args := m.Called(ctx, id, attempts, lastError)
	return args.Error(0)
}

func (m *MockJobRepository) DeadLetter(ctx context.Context, id string, attempts int, lastError string) (bool, error) {
	args := m.Called(ctx, id, attempts, lastError)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	args := m.Called(ctx, claimedBefore)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepository) ListDeadLetters(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestionJob), args.Error(1)
}

func (m *MockJobRepository) Redrive(ctx context.Context, id string) (*domain.IngestionJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionJob), args.Error(1)
}

func (m *MockJobRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

// MockVectorIndex is a mock implementation of VectorIndex
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) InsertBatch(entries []domain.IndexEntry) (int, error) {
	args := m.Called(entries)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorIndex) QueryFiltered(vector []float32, topK int, keep func(documentID string) bool) ([]index.Hit, error) {
	args := m.Called(vector, topK, keep)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]index.Hit), args.Error(1)
}

func (m *MockVectorIndex) Deactivate(documentID string) int {
	args := m.Called(documentID)
	return args.Int(0)
}

func (m *MockVectorIndex) Rebuild(entries []domain.IndexEntry) error {
	args := m.Called(entries)
	return args.Error(0)
}

func (m *MockVectorIndex) Compact() {
	m.Called()
}

// Publish is not recorded; it only orders index writes against rebuilds.
func (m *MockVectorIndex) Publish() func() {
	return func() {}
}

func (m *MockVectorIndex) Stats() index.Stats {
	args := m.Called()
	return args.Get(0).(index.Stats)
}

// MockUUIDGenerator hands out the given IDs in order
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "default-uuid"
}

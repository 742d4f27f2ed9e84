package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/storage"
)

// MetaSuffix marks a sidecar object describing the snapshot object it is named after.
const MetaSuffix = ".meta.json"

// ObjectStore is the subset of storage.S3Client the fetcher reads from.
type ObjectStore interface {
	Bucket() string
	ListObjects(ctx context.Context, prefix string, since time.Time) ([]storage.ObjectMetadata, error)
	GetObject(ctx context.Context, key string) ([]byte, *storage.ObjectMetadata, error)
}

// Document is one literature item from a feed snapshot.
type Document struct {
	SourceURI   string
	Title       string
	PublishedAt *time.Time
	Category    string
	ContentType string
	Raw         []byte
}

// Meta is the optional sidecar next to a snapshot object.
type Meta struct {
	SourceURI   string     `json:"source_uri"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at"`
	Category    string     `json:"category"`
	ContentType string     `json:"content_type"`
}

// Fetcher reads literature-feed snapshots laid out as <topic>/<object> in a bucket.
type Fetcher struct {
	store ObjectStore
	now   func() time.Time
}

func NewFetcher(store ObjectStore) *Fetcher {
	return &Fetcher{store: store, now: time.Now}
}

// Fetch returns the documents of topic that were published to the bucket
// within window. A zero window returns the whole topic.
func (f *Fetcher) Fetch(ctx context.Context, topic string, window time.Duration) ([]Document, error) {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		return nil, errors.New("feed topic is required")
	}

	var since time.Time
	if window > 0 {
		since = f.now().Add(-window)
	}

	objects, err := f.store.ListObjects(ctx, topic+"/", since)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed topic %s: %w", topic, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, MetaSuffix) || strings.HasSuffix(obj.Key, "/") {
			continue
		}

		raw, meta, err := f.store.GetObject(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read feed object %s: %w", obj.Key, err)
		}

		doc := Document{
			SourceURI:   fmt.Sprintf("s3://%s/%s", f.store.Bucket(), obj.Key),
			Title:       strings.TrimSuffix(path.Base(obj.Key), path.Ext(obj.Key)),
			Category:    topic,
			ContentType: meta.ContentType,
			Raw:         raw,
		}
		if err := f.applySidecar(ctx, obj.Key, &doc); err != nil {
			log.Printf("feed: ignoring sidecar for %s: %v", obj.Key, err)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func (f *Fetcher) applySidecar(ctx context.Context, key string, doc *Document) error {
	raw, _, err := f.store.GetObject(ctx, key+MetaSuffix)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return err
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("invalid sidecar: %w", err)
	}

	if meta.SourceURI != "" {
		doc.SourceURI = meta.SourceURI
	}
	if meta.Title != "" {
		doc.Title = meta.Title
	}
	if meta.Category != "" {
		doc.Category = meta.Category
	}
	if meta.ContentType != "" {
		doc.ContentType = meta.ContentType
	}
	doc.PublishedAt = meta.PublishedAt
	return nil
}

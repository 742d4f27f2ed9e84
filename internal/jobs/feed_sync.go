package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/medindex/internal/feed"
	"github.com/cloo-solutions/medindex/internal/service"
)

// FeedFetcher returns the documents a literature feed published for a topic.
type FeedFetcher interface {
	Fetch(ctx context.Context, topic string, window time.Duration) ([]feed.Document, error)
}

// DocumentSubmitter queues raw documents for ingestion.
type DocumentSubmitter interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.SubmitResult, error)
}

// SyncResult counts what a feed sync did.
type SyncResult struct {
	Fetched    int
	Submitted  int
	Duplicates int
	Failed     int
}

// FeedSync pulls configured topics from the literature feed and submits
// every new document. Known documents are skipped by content hash.
type FeedSync struct {
	fetcher   FeedFetcher
	submitter DocumentSubmitter
	topics    []string
	window    time.Duration
}

// NewFeedSync creates a new FeedSync instance
func NewFeedSync(fetcher FeedFetcher, submitter DocumentSubmitter, topics []string, window time.Duration) *FeedSync {
	return &FeedSync{
		fetcher:   fetcher,
		submitter: submitter,
		topics:    topics,
		window:    window,
	}
}

// ProcessJobs implements the JobProcessor interface
func (s *FeedSync) ProcessJobs(ctx context.Context) error {
	_, err := s.Sync(ctx)
	return err
}

// Sync fetches every topic once. A failing topic does not stop the others;
// their errors are joined.
func (s *FeedSync) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	var errs []error

	for _, topic := range s.topics {
		docs, err := s.fetcher.Fetch(ctx, topic, s.window)
		if err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
			continue
		}
		result.Fetched += len(docs)

		for _, doc := range docs {
			res, err := s.submitter.Submit(ctx, service.SubmitInput{
				Raw:         doc.Raw,
				SourceURI:   doc.SourceURI,
				Title:       doc.Title,
				Category:    doc.Category,
				ContentType: doc.ContentType,
				PublishedAt: doc.PublishedAt,
			})
			switch {
			case err != nil:
				result.Failed++
				log.Printf("feed: failed to submit %s: %v", doc.SourceURI, err)
			case res.Created:
				result.Submitted++
			default:
				result.Duplicates++
			}
		}
	}

	if result.Fetched > 0 || len(errs) > 0 {
		log.Printf("feed: sync fetched=%d submitted=%d duplicates=%d failed=%d topic_errors=%d",
			result.Fetched, result.Submitted, result.Duplicates, result.Failed, len(errs))
	}
	return result, errors.Join(errs...)
}

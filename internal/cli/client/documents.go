package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloo-solutions/medindex/internal/extract"
	"github.com/spf13/cobra"
)

// Document mirrors the document representation returned by the API.
type Document struct {
	ID             string  `json:"id"`
	SourceURI      string  `json:"source_uri"`
	Title          string  `json:"title,omitempty"`
	Category       string  `json:"category"`
	ContentType    string  `json:"content_type,omitempty"`
	Status         string  `json:"status"`
	LastError      string  `json:"last_error,omitempty"`
	PublishedAt    string  `json:"published_at,omitempty"`
	DeactivatedAt  string  `json:"deactivated_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	ChunkCount     *int    `json:"chunk_count,omitempty"`
	FeedbackWeight float64 `json:"feedback_weight,omitempty"`
}

type SubmitResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Created    bool   `json:"created"`
}

type DocumentPage struct {
	Items      []Document `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

type Chunk struct {
	ID         string `json:"id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// contentTypeFor picks the declared content type from the file extension.
// The server sniffs the bytes as well.
func contentTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extract.ContentTypePDF
	}
	return extract.ContentTypePlain
}

// SubmitCmd creates the submit command.
func SubmitCmd() *cobra.Command {
	var (
		category    string
		sourceURI   string
		title       string
		publishedAt string
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for ingestion",
		Long: `Uploads a PDF or plain-text document. The document is queued and
processed in the background; resubmitting identical bytes returns the
existing document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := args[0]
			if sourceURI == "" {
				sourceURI = "file://" + filepath.Base(path)
			}

			resp, err := api.UploadFile("/documents", path, contentTypeFor(path), map[string]string{
				"category":     category,
				"source_uri":   sourceURI,
				"title":        title,
				"published_at": publishedAt,
			}, nil)
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			var result SubmitResponse
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(result)
			}
			if result.Created {
				fmt.Printf("Queued %s\n", result.DocumentID)
			} else {
				fmt.Printf("Already known: %s (%s)\n", result.DocumentID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Clinical category (required)")
	cmd.Flags().StringVar(&sourceURI, "source-uri", "", "Where the document came from (default file://<name>)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (default file name)")
	cmd.Flags().StringVar(&publishedAt, "published-at", "", "Publication date, YYYY-MM-DD or RFC 3339")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

// GetCmd creates the get command.
func GetCmd() *cobra.Command {
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			id := url.PathEscape(args[0])

			resp, err := api.Get("/documents/" + id)
			if err != nil {
				return err
			}
			var doc Document
			if err := json.Unmarshal(resp.Data, &doc); err != nil {
				return fmt.Errorf("failed to parse document: %w", err)
			}

			var chunks []Chunk
			if showChunks {
				resp, err := api.Get("/documents/" + id + "/chunks")
				if err != nil {
					return err
				}
				if err := json.Unmarshal(resp.Data, &chunks); err != nil {
					return fmt.Errorf("failed to parse chunks: %w", err)
				}
			}

			if wantsJSON(cmd) {
				return printJSON(map[string]interface{}{"document": doc, "chunks": chunks})
			}
			printDocument(doc)
			for _, c := range chunks {
				fmt.Printf("\n[%d] %s\n", c.Ordinal, truncate(c.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showChunks, "chunks", false, "Also print the stored chunks")
	return cmd
}

func printDocument(d Document) {
	fmt.Printf("ID:        %s\n", d.ID)
	if d.Title != "" {
		fmt.Printf("Title:     %s\n", d.Title)
	}
	fmt.Printf("Source:    %s\n", d.SourceURI)
	fmt.Printf("Category:  %s\n", d.Category)
	fmt.Printf("Status:    %s\n", d.Status)
	if d.PublishedAt != "" {
		fmt.Printf("Published: %s\n", d.PublishedAt)
	}
	if d.DeactivatedAt != "" {
		fmt.Printf("Inactive:  since %s\n", d.DeactivatedAt)
	}
	if d.ChunkCount != nil {
		fmt.Printf("Chunks:    %d\n", *d.ChunkCount)
	}
	if d.FeedbackWeight != 0 {
		fmt.Printf("Weight:    %.2f\n", d.FeedbackWeight)
	}
	if d.LastError != "" {
		fmt.Printf("Error:     %s\n", d.LastError)
	}
}

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	var (
		status   string
		category string
		cursor   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if category != "" {
				q.Set("category", category)
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			q.Set("limit", strconv.Itoa(limit))

			resp, err := api.Get("/documents?" + q.Encode())
			if err != nil {
				return err
			}
			var page DocumentPage
			if err := json.Unmarshal(resp.Data, &page); err != nil {
				return fmt.Errorf("failed to parse documents: %w", err)
			}

			if wantsJSON(cmd) {
				return printJSON(page)
			}
			if len(page.Items) == 0 {
				fmt.Println("No documents found.")
				return nil
			}
			for _, d := range page.Items {
				fmt.Printf("%s  %-10s  %-16s  %s\n", d.ID, d.Status, d.Category, truncate(d.Title, 60))
			}
			if page.HasMore {
				fmt.Printf("\nMore results: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (queued, processing, indexed, failed)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of documents")

	return cmd
}

// ReingestCmd creates the reingest command.
func ReingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reingest <document-id>",
		Short: "Queue a document for processing again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/documents/"+url.PathEscape(args[0])+"/reingest", nil)
			if err != nil {
				return err
			}
			var job Job
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("failed to parse job: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(job)
			}
			fmt.Printf("Queued job %s\n", job.JobID)
			return nil
		},
	}
}

// DeactivateCmd creates the deactivate command.
func DeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <document-id>",
		Short: "Hide a document from search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/documents/"+url.PathEscape(args[0])+"/deactivate", nil)
			if err != nil {
				return err
			}
			var result struct {
				DocumentID         string `json:"document_id"`
				EntriesDeactivated int    `json:"entries_deactivated"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(result)
			}
			fmt.Printf("Deactivated %s (%d index entries)\n", result.DocumentID, result.EntriesDeactivated)
			return nil
		},
	}
}

// PurgeCmd creates the purge command.
func PurgeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <document-id>",
		Short: "Permanently delete a document and everything derived from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("purge cannot be undone; pass --force to confirm")
			}
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Delete("/documents/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Printf("Purged %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm permanent deletion")
	return cmd
}

// DownloadCmd creates the download command.
func DownloadCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "download <document-id>",
		Short: "Download the raw bytes of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get("/documents/" + url.PathEscape(args[0]) + "/download")
			if err != nil {
				return err
			}
			var link struct {
				DownloadURL string `json:"download_url"`
			}
			if err := json.Unmarshal(resp.Data, &link); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if outputPath == "" {
				outputPath = args[0]
			}
			if err := api.DownloadFile(link.DownloadURL, outputPath, nil); err != nil {
				return err
			}
			fmt.Printf("Saved %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "out", "O", "", "Output path (default document ID)")
	return cmd
}

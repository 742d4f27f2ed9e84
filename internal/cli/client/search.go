package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	Alpha          *float64 `json:"alpha,omitempty"`
	Category       string   `json:"category,omitempty"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
	PublishedAfter string   `json:"published_after,omitempty"`
}

// SearchResult represents a ranked chunk.
type SearchResult struct {
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title,omitempty"`
	SourceURI      string  `json:"source_uri"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	Similarity     float64 `json:"similarity"`
	Lexical        float64 `json:"lexical"`
	Freshness      float64 `json:"freshness"`
	FeedbackWeight float64 `json:"feedback_weight"`
	Outdated       bool    `json:"outdated"`
	PublishedAt    string  `json:"published_at,omitempty"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Alpha    float64        `json:"alpha"`
	Degraded bool           `json:"degraded"`
}

type Passage struct {
	Citation int `json:"citation"`
	SearchResult
}

type AnswerResponse struct {
	Answer   string    `json:"answer"`
	Passages []Passage `json:"passages"`
	Degraded bool      `json:"degraded"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		topK           int
		alpha          float64
		category       string
		documentIDs    []string
		publishedAfter string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed literature",
		Long: `Ranks chunks by a blend of vector similarity and lexical relevance,
adjusted for freshness and reader feedback. --alpha 1 is pure vector
search, --alpha 0 pure lexical search.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := SearchRequest{
				Query:          args[0],
				TopK:           topK,
				Category:       category,
				DocumentIDs:    documentIDs,
				PublishedAfter: publishedAfter,
			}
			if cmd.Flags().Changed("alpha") {
				req.Alpha = &alpha
			}
			return runSearch(cmd, req)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "Number of results")
	cmd.Flags().Float64VarP(&alpha, "alpha", "a", 0.5, "Vector weight between 0 and 1 (default server setting)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Restrict to a category")
	cmd.Flags().StringSliceVar(&documentIDs, "document", nil, "Restrict to document IDs")
	cmd.Flags().StringVar(&publishedAfter, "published-after", "", "Only documents published after this RFC 3339 time")

	return cmd
}

func runSearch(cmd *cobra.Command, req SearchRequest) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/search", req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if wantsJSON(cmd) {
		return printJSON(searchResp)
	}
	if searchResp.Degraded {
		fmt.Println("Vector search unavailable; results ranked by keyword match only.")
	}
	if len(searchResp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(searchResp.Results))
	for i, r := range searchResp.Results {
		title := r.Title
		if title == "" {
			title = r.SourceURI
		}
		fmt.Printf("%d. %s (%.3f)\n", i+1, title, r.Score)
		fmt.Printf("   %s\n", truncate(r.Text, 160))
		if r.Outdated {
			fmt.Printf("   Published %s, may be outdated\n", r.PublishedAt)
		}
		fmt.Printf("   Document: %s  Chunk: %s\n", r.DocumentID, r.ChunkID)
		if i < len(searchResp.Results)-1 {
			fmt.Println()
		}
	}
	return nil
}

// AnswerCmd creates the answer command.
func AnswerCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Answer a question from the indexed literature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Post("/answer", map[string]interface{}{"query": args[0], "top_k": topK})
			if err != nil {
				return fmt.Errorf("answer failed: %w", err)
			}
			var answer AnswerResponse
			if err := json.Unmarshal(resp.Data, &answer); err != nil {
				return fmt.Errorf("failed to parse answer: %w", err)
			}

			if wantsJSON(cmd) {
				return printJSON(answer)
			}
			fmt.Println(answer.Answer)
			if len(answer.Passages) > 0 {
				fmt.Println("\nSources:")
			}
			for _, p := range answer.Passages {
				title := p.Title
				if title == "" {
					title = p.SourceURI
				}
				fmt.Printf("  [%d] %s (%s)\n", p.Citation, title, p.DocumentID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of passages to cite")
	return cmd
}

// FeedbackCmd creates the feedback command.
func FeedbackCmd() *cobra.Command {
	var queryContext string

	cmd := &cobra.Command{
		Use:   "feedback <document-id> <rating>",
		Short: "Rate a document from 1 to 5",
		Long:  "Ratings adjust how strongly a document is ranked in future searches.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rating int
			if _, err := fmt.Sscanf(args[1], "%d", &rating); err != nil || rating < 1 || rating > 5 {
				return fmt.Errorf("rating must be a whole number from 1 to 5")
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Post("/feedback", map[string]interface{}{
				"document_id":   args[0],
				"rating":        rating,
				"query_context": queryContext,
			})
			if err != nil {
				return fmt.Errorf("feedback failed: %w", err)
			}
			var result struct {
				DocumentID string  `json:"document_id"`
				Weight     float64 `json:"weight"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(result)
			}
			fmt.Printf("Feedback recorded; %s now weighs %.2f\n", result.DocumentID, result.Weight)
			return nil
		},
	}

	cmd.Flags().StringVarP(&queryContext, "query", "q", "", "The search that surfaced the document")
	return cmd
}

package openai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel answers synthesis requests
	DefaultChatModel = openai.GPT4oMini
	// DefaultMaxInputTokens is the per-input limit of the embedding endpoint
	DefaultMaxInputTokens = 8191

	tokenizerEncoding = "cl100k_base"
)

const synthesisPrompt = `You answer clinical and biomedical questions using only the numbered passages provided.
Cite passages as [n]. If the passages do not contain the answer, say that the indexed literature does not cover it.`

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoPassages is returned when synthesis is requested without context
	ErrNoPassages = errors.New("no passages to synthesize from")
)

// API is the subset of the OpenAI API the client uses
type API interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

// Client wraps the OpenAI API client
type Client struct {
	api            API
	model          string
	dimensions     int
	maxInputTokens int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	chatModel  string
	dimensions int
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	adapter := &OpenAIAdapter{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.EmbeddingModel,
		chatModel: cfg.ChatModel,
	}
	// ada-002 rejects the dimensions parameter
	if cfg.EmbeddingModel != openai.AdaEmbeddingV2 {
		adapter.dimensions = cfg.EmbeddingDimensions
	}
	return adapter
}

// CreateEmbeddings calls the OpenAI API to create embeddings, returned in input order
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      a.model,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// CreateChatCompletion runs a single-turn chat completion
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
	MaxInputTokens      int
}

func (cfg Config) withDefaults() Config {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = DefaultMaxInputTokens
	}
	return cfg
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return newClient(NewOpenAIAdapter(cfg), cfg)
}

func newClient(api API, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		api:            api,
		model:          string(cfg.EmbeddingModel),
		dimensions:     cfg.EmbeddingDimensions,
		maxInputTokens: cfg.MaxInputTokens,
	}
}

// ModelVersion identifies the vectors produced by this client
func (c *Client) ModelVersion() string {
	return c.model
}

// Dimensions is the length of every returned vector
func (c *Client) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Inputs over the token limit are truncated.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyText
		}
		inputs[i] = c.truncate(text)
	}

	vectors, err := c.api.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("failed to create embedding: got %d vectors for %d inputs", len(vectors), len(inputs))
	}
	for _, v := range vectors {
		if len(v) != c.dimensions {
			return nil, ErrWrongDimensions
		}
	}

	return vectors, nil
}

// Synthesize answers query from the given passages
func (c *Client) Synthesize(ctx context.Context, query string, passages []string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyText
	}
	if len(passages) == 0 {
		return "", ErrNoPassages
	}

	answer, err := c.api.CreateChatCompletion(ctx, synthesisPrompt, buildSynthesisInput(query, passages))
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func buildSynthesisInput(query string, passages []string) string {
	var sb strings.Builder
	sb.WriteString("Passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, strings.TrimSpace(p))
	}
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(query))
	return sb.String()
}

// truncate cuts text to maxInputTokens. When the tokenizer cannot be loaded
// the text is sent unchanged.
func (c *Client) truncate(text string) string {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenizerEncoding)
		if err != nil {
			log.Printf("openai: tokenizer unavailable, inputs are not truncated: %v", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil || c.maxInputTokens <= 0 {
		return text
	}

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= c.maxInputTokens {
		return text
	}
	return c.enc.Decode(tokens[:c.maxInputTokens])
}

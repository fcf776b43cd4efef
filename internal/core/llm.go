package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	// PrimaryModel answers chat turns; SecondaryModel is the cheaper
	// fallback retried once when the primary fails.
	PrimaryModel   = "gemini-2.0-flash-exp"
	SecondaryModel = "gemini-2.0-flash"

	embeddingModel = "text-embedding-004"
)

// Result is the normalized backend response. All downstream code reads
// Text only; Raw keeps the provider response around for logging.
type Result struct {
	Text string
	Raw  any
}

// Stream yields text chunks of one in-flight generation. Next returns
// io.EOF when the stream is exhausted; streams are finite and cannot be
// restarted.
type Stream interface {
	Next() (string, error)
}

// GenOptions are the knobs the service actually uses; nil fields leave
// the model default in place.
type GenOptions struct {
	Temperature     *float32
	MaxOutputTokens *int32
}

// Backend is the generative service boundary: completions, streamed
// completions, and the sentence embedding encoder behind retrieval.
type Backend interface {
	Complete(ctx context.Context, model, prompt string, opts GenOptions) (Result, error)
	CompleteStream(ctx context.Context, model, prompt string) (Stream, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiBackend implements Backend over the Google GenAI API.
type GeminiBackend struct {
	client *genai.Client
}

func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func (b *GeminiBackend) Complete(ctx context.Context, model, prompt string, opts GenOptions) (Result, error) {
	m := b.client.GenerativeModel(model)
	if opts.Temperature != nil {
		m.GenerationConfig.Temperature = opts.Temperature
	}
	if opts.MaxOutputTokens != nil {
		m.GenerationConfig.MaxOutputTokens = opts.MaxOutputTokens
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	text := flattenResponse(resp)
	if text == "" {
		return Result{Raw: resp}, fmt.Errorf("gemini response had no text candidates")
	}
	return Result{Text: text, Raw: resp}, nil
}

// CompleteStream opens a streamed generation. The first chunk is pulled
// eagerly so that a stream which cannot be opened at all surfaces here
// as an error instead of on the first read.
func (b *GeminiBackend) CompleteStream(ctx context.Context, model, prompt string) (Stream, error) {
	iter := b.client.GenerativeModel(model).GenerateContentStream(ctx, genai.Text(prompt))

	first, err := iter.Next()
	if err != nil && err != iterator.Done {
		return nil, fmt.Errorf("gemini stream open failed: %w", err)
	}

	s := &geminiStream{iter: iter}
	if err == iterator.Done {
		s.done = true
	} else {
		s.buffered = flattenResponse(first)
		s.hasBuffered = true
	}
	return s, nil
}

type geminiStream struct {
	iter        *genai.GenerateContentResponseIterator
	buffered    string
	hasBuffered bool
	done        bool
}

func (s *geminiStream) Next() (string, error) {
	if s.hasBuffered {
		s.hasBuffered = false
		return s.buffered, nil
	}
	if s.done {
		return "", io.EOF
	}
	resp, err := s.iter.Next()
	if err == iterator.Done {
		s.done = true
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("gemini stream read failed: %w", err)
	}
	return flattenResponse(resp), nil
}

func (b *GeminiBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	em := b.client.EmbeddingModel(embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (b *GeminiBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := b.client.EmbeddingModel(embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embedding request failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received for text %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// flattenResponse joins the text parts of the first candidate; any
// non-text parts are skipped.
func flattenResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vecsync/vecsync/internal/errs"
)

// DefaultBatchSize is the number of texts sent per embedding API call when
// the configuration does not override it.
const DefaultBatchSize = 100

// OpenAIModel represents a supported OpenAI embedding model.
type OpenAIModel string

const (
	ModelTextEmbedding3Small OpenAIModel = "text-embedding-3-small"
	ModelTextEmbedding3Large OpenAIModel = "text-embedding-3-large"
)

func (m OpenAIModel) dimensions() int {
	switch m {
	case ModelTextEmbedding3Small:
		return 1536
	case ModelTextEmbedding3Large:
		return 3072
	default:
		return 1536
	}
}

// OpenAIEmbedder generates embeddings using OpenAI's API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     OpenAIModel
	batchSize int
}

// NewOpenAIEmbedder creates a new OpenAI embedder with the given API key,
// model, and API batch size (0 uses DefaultBatchSize).
func NewOpenAIEmbedder(apiKey string, model OpenAIModel, batchSize int) *OpenAIEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(apiKey),
		model:     model,
		batchSize: batchSize,
	}
}

func (e *OpenAIEmbedder) Name() string {
	return string(e.model)
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.model.dimensions()
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	wantDims := e.Dimensions()
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, errs.Embedding("embed_batch", fmt.Errorf("openai embedding request failed: %w", err),
				map[string]any{"batch_size": len(batch)})
		}

		if len(resp.Data) != len(batch) {
			return nil, errs.Embedding("embed_batch",
				fmt.Errorf("openai returned %d embeddings, expected %d", len(resp.Data), len(batch)), nil)
		}

		for _, emb := range resp.Data {
			if len(emb.Embedding) != wantDims {
				return nil, errs.Embedding("dimension_mismatch",
					fmt.Errorf("openai returned a %d-dimension vector, expected %d", len(emb.Embedding), wantDims),
					map[string]any{"model": string(e.model)})
			}
			allEmbeddings = append(allEmbeddings, emb.Embedding)
		}
	}

	return allEmbeddings, nil
}

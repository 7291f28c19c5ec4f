package embedding

import "context"

// APIProvider calls an OpenAI-compatible /embeddings endpoint with the
// whole batch in one request.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	dim      learnedDimension
}

// NewAPIProvider creates an APIProvider from cfg.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		dim:      learnedDimension{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out apiResponse
	if err := postJSON(ctx, p.endpoint+"/embeddings", p.apiKey, apiRequest{Model: p.model, Input: texts}, &out); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(out.Data))
	indexed := true
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) || vectors[d.Index] != nil {
			indexed = false
			break
		}
		vectors[d.Index] = d.Embedding
	}
	if !indexed {
		for i, d := range out.Data {
			vectors[i] = d.Embedding
		}
	}
	p.dim.observe(vectors)
	return vectors, nil
}

// Dimension returns the learned vector size, or the configured one before
// the first response.
func (p *APIProvider) Dimension() int { return p.dim.get() }

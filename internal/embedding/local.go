package embedding

import "context"

// LocalProvider calls an Ollama-style /api/embeddings endpoint, one text
// per request.
type LocalProvider struct {
	endpoint string
	model    string
	dim      learnedDimension
}

// NewLocalProvider creates a LocalProvider from cfg.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		dim:      learnedDimension{configured: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var out localResponse
		if err := postJSON(ctx, p.endpoint+"/api/embeddings", "", localRequest{Model: p.model, Prompt: text}, &out); err != nil {
			return nil, err
		}
		vectors = append(vectors, out.Embedding)
	}
	p.dim.observe(vectors)
	return vectors, nil
}

func (p *LocalProvider) Dimension() int { return p.dim.get() }

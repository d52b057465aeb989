// Package catalog implements the Model Catalog (spec.md §4.10): on the
// host, fetching available models from the local inference endpoint and
// pushing the list to peers; on a joiner, replacing the local catalog
// when a models_update arrives.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Model is one catalog entry.
type Model struct {
	Id          string
	DisplayName string
	ModifiedAt  time.Time
}

// Defaults is the hard-wired catalog used when the inference endpoint is
// unreachable, per spec.md §3 ("A default catalog is hard-wired for the
// case where the inference endpoint is unreachable").
func Defaults() []Model {
	return []Model{
		{Id: "llama3", DisplayName: "Llama 3"},
		{Id: "mistral", DisplayName: "Mistral"},
		{Id: "codellama", DisplayName: "Code Llama"},
		{Id: "phi3", DisplayName: "Phi-3"},
		{Id: "gemma", DisplayName: "Gemma"},
	}
}

// Catalog holds the currently known model list. Single-writer, reached
// from the owning session's goroutine (spec.md §5); the mutex covers the
// rare concurrent read.
type Catalog struct {
	mu              sync.Mutex
	models          []Model
	usingHostModels bool
}

// New starts a Catalog with the hard-wired defaults.
func New() *Catalog {
	return &Catalog{models: Defaults()}
}

// Replace overwrites the catalog, e.g. on receipt of models_update
// (spec.md §4.6: "if self is joiner, overwrite the model catalog and
// mark usingHostModels=true").
func (c *Catalog) Replace(models []Model, fromHost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append([]Model(nil), models...)
	if fromHost {
		c.usingHostModels = true
	}
}

func (c *Catalog) Models() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) UsingHostModels() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usingHostModels
}

// tagsResponse mirrors the inference endpoint's GET /api/tags body
// (spec.md §6): {"models": [{"name": ..., "modified_at": ...}]}.
type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// Fetch retrieves the model list from the local inference endpoint's
// GET /api/tags. On any failure it returns the hard-wired default list
// per spec.md §4.10, and a non-nil error the caller may log but should
// not treat as fatal.
func Fetch(ctx context.Context, client *http.Client, baseURL string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return Defaults(), err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Defaults(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Defaults(), fmt.Errorf("catalog: GET /api/tags: status %d", resp.StatusCode)
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Defaults(), fmt.Errorf("catalog: decode /api/tags: %w", err)
	}

	models := make([]Model, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		mod := Model{Id: m.Name, DisplayName: m.Name}
		if t, err := time.Parse(time.RFC3339, m.ModifiedAt); err == nil {
			mod.ModifiedAt = t
		}
		models = append(models, mod)
	}
	if len(models) == 0 {
		return Defaults(), nil
	}
	return models, nil
}

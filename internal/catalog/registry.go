package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

var (
	ErrAliasRequired = errors.New("model alias is required")
	ErrAliasUnknown  = errors.New("model alias not found")
)

// Registry is the immutable mapping of caller-facing model names to backend
// endpoints. It is built once at startup; reloading requires a restart.
type Registry struct {
	models       map[string]models.Model
	defaultModel string
}

// NewRegistry builds a registry from enabled catalog entries.
func NewRegistry(entries []config.ModelCatalogEntry, defaultModel string) (*Registry, error) {
	reg := &Registry{
		models:       make(map[string]models.Model, len(entries)),
		defaultModel: strings.TrimSpace(defaultModel),
	}
	for i, entry := range entries {
		if !entry.IsEnabled() {
			continue
		}
		alias := strings.TrimSpace(entry.Alias)
		endpoint := NormalizeEndpoint(entry.Endpoint)
		if alias == "" || endpoint == "" {
			return nil, fmt.Errorf("catalog entry %d: alias and endpoint are required", i)
		}
		price := decimal.Zero
		if raw := strings.TrimSpace(entry.PricePerImage); raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %q: invalid price_per_image: %w", alias, err)
			}
			price = parsed
		}
		reg.models[alias] = models.Model{
			Alias:         alias,
			Endpoint:      endpoint,
			Description:   strings.TrimSpace(entry.Description),
			PricePerImage: price,
		}
	}
	if len(reg.models) == 0 {
		return nil, errors.New("catalog requires at least one enabled model")
	}
	if reg.defaultModel != "" {
		if _, ok := reg.models[reg.defaultModel]; !ok {
			return nil, fmt.Errorf("%w: default model %s", ErrAliasUnknown, reg.defaultModel)
		}
	}
	return reg, nil
}

// Lookup returns the model registered under alias.
func (r *Registry) Lookup(alias string) (models.Model, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return models.Model{}, ErrAliasRequired
	}
	m, ok := r.models[alias]
	if !ok {
		return models.Model{}, fmt.Errorf("%w: %s", ErrAliasUnknown, alias)
	}
	return m, nil
}

// Resolve applies the default model to an empty alias before looking it up.
func (r *Registry) Resolve(alias string) (models.Model, error) {
	if strings.TrimSpace(alias) == "" {
		alias = r.defaultModel
	}
	return r.Lookup(alias)
}

// DefaultModel returns the alias used when a request omits the model.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Aliases returns the registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.models))
	for alias := range r.models {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Models returns all registered models sorted by alias.
func (r *Registry) Models() []models.Model {
	aliases := r.Aliases()
	out := make([]models.Model, 0, len(aliases))
	for _, alias := range aliases {
		out = append(out, r.models[alias])
	}
	return out
}

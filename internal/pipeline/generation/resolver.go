package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/envutil"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/openai"
)

// Resolver returns the Generator to use on behalf of a tenant.
type Resolver interface {
	ForTenant(ctx context.Context, t envelope.Tenant) (Generator, error)
}

type staticResolver struct{ g Generator }

// Static serves every tenant with the same Generator.
func Static(g Generator) Resolver { return staticResolver{g: g} }

func (s staticResolver) ForTenant(ctx context.Context, t envelope.Tenant) (Generator, error) {
	if s.g == nil {
		return nil, ErrNoCredential
	}
	return s.g, nil
}

type openAIResolver struct {
	log  *logger.Logger
	base openai.Config
	keys map[string]string

	mu    sync.Mutex
	cache map[string]Generator
}

// NewOpenAIResolver builds one OpenAI-backed Generator per tenant key.
// Tenants without their own key share base.APIKey when it is set.
func NewOpenAIResolver(log *logger.Logger, base openai.Config, keys map[string]string) Resolver {
	if keys == nil {
		keys = map[string]string{}
	}
	return &openAIResolver{
		log:   log.With("service", "generation.Resolver"),
		base:  base,
		keys:  keys,
		cache: map[string]Generator{},
	}
}

func (r *openAIResolver) ForTenant(ctx context.Context, t envelope.Tenant) (Generator, error) {
	id := strings.TrimSpace(t.CustomerIdentifier)
	key := strings.TrimSpace(r.keys[id])
	cacheKey := id
	if key == "" {
		key = strings.TrimSpace(r.base.APIKey)
		cacheKey = ""
	}
	if key == "" {
		return nil, fmt.Errorf("%w: customer=%s", ErrNoCredential, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.cache[cacheKey]; ok {
		return g, nil
	}
	cfg := r.base
	cfg.APIKey = key
	client, err := openai.NewClient(r.log, cfg)
	if err != nil {
		return nil, err
	}
	g := NewOpenAI(r.log, client)
	r.cache[cacheKey] = g
	return g, nil
}

// TenantKeysFromEnv parses GENERATION_TENANT_KEYS ("customer=key,customer2=key2").
func TenantKeysFromEnv() map[string]string {
	return ParseTenantKeys(envutil.String("GENERATION_TENANT_KEYS", ""))
}

func ParseTenantKeys(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		id, key, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		id, key = strings.TrimSpace(id), strings.TrimSpace(key)
		if id == "" || key == "" {
			continue
		}
		out[id] = key
	}
	return out
}

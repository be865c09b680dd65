package analysis

import (
	"fmt"
	"os"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/convoscope/convoscope/internal/config"
	"github.com/convoscope/convoscope/pkg/provider/llm"
	"github.com/convoscope/convoscope/pkg/provider/llm/anyllm"
	openaiprovider "github.com/convoscope/convoscope/pkg/provider/llm/openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Router resolves analysis tasks to chat providers from the config routing
// table. Providers are constructed lazily and cached per task, so a route
// shared by multiple layers builds a single client.
type Router struct {
	cfg config.LLMConfig

	mu    sync.Mutex
	cache map[string]llm.Provider
}

// NewRouter returns a router over the given routing table.
func NewRouter(cfg config.LLMConfig) *Router {
	return &Router{cfg: cfg, cache: make(map[string]llm.Provider)}
}

// ProviderFor resolves the provider for a task. Tasks without an explicit
// route fall back to the default entry.
func (r *Router) ProviderFor(task string) (llm.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[task]; ok {
		return p, nil
	}

	route, ok := r.cfg.TaskRoutes[task]
	if !ok {
		route = config.TaskRoute{
			Provider: r.cfg.Default.Name,
			Model:    r.cfg.Default.Model,
			BaseURL:  r.cfg.Default.BaseURL,
		}
	}

	p, err := r.build(route)
	if err != nil {
		return nil, fmt.Errorf("analysis: build provider for task %q: %w", task, err)
	}
	r.cache[task] = p
	return p, nil
}

// build constructs a provider for one route. OpenRouter and any route
// carrying attribution headers go through the OpenAI-compatible client,
// which supports custom headers; everything else goes through any-llm.
func (r *Router) build(route config.TaskRoute) (llm.Provider, error) {
	apiKey := r.cfg.Default.APIKey
	if route.APIKeyEnv != "" {
		apiKey = os.Getenv(route.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is empty", route.APIKeyEnv)
		}
	}

	if route.Provider == "openrouter" || route.Referer != "" {
		baseURL := route.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		opts := []openaiprovider.Option{openaiprovider.WithBaseURL(baseURL)}
		if route.Referer != "" {
			opts = append(opts, openaiprovider.WithHeader("HTTP-Referer", route.Referer))
		}
		if route.Title != "" {
			opts = append(opts, openaiprovider.WithHeader("X-Title", route.Title))
		}
		return openaiprovider.New(apiKey, route.Model, opts...)
	}

	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if route.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(route.BaseURL))
	}
	return anyllm.New(route.Provider, route.Model, opts...)
}

package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// targetModulesByFamily maps a normalized architecture family to the layer
// names injected with adapters during fine-tuning.
var targetModulesByFamily = map[string][]string{
	"llama":   {"q_proj", "v_proj", "k_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
	"mistral": {"q_proj", "v_proj", "k_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
	"gemma":   {"q_proj", "v_proj", "k_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
	"qwen":    {"q_proj", "v_proj", "k_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
	"phi":     {"q_proj", "v_proj", "dense", "fc1", "fc2"},
	"gpt":     {"c_attn", "c_proj", "c_fc"},
	"bert":    {"query", "key", "value", "dense"},
	"roberta": {"query", "key", "value", "dense"},
}

var genericTargetModules = []string{"q_proj", "v_proj", "k_proj", "o_proj"}

var fallbackTargetModules = []string{"q_proj", "v_proj"}

// ArchitectureProber reports the architecture family for a model. A probe
// failure is expected for unknown or unreachable models and never aborts
// a run.
type ArchitectureProber interface {
	ModelType(ctx context.Context, modelPath string) (string, error)
}

// ConfigFileProber reads the model's architecture descriptor from its
// config.json. Loading only the metadata keeps resolution cheap; the full
// weights are never touched.
type ConfigFileProber struct{}

func (ConfigFileProber) ModelType(_ context.Context, modelPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(modelPath, "config.json"))
	if err != nil {
		return "", fmt.Errorf("read model descriptor: %w", err)
	}

	var descriptor struct {
		ModelType string `json:"model_type"`
	}
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return "", fmt.Errorf("decode model descriptor: %w", err)
	}
	if descriptor.ModelType == "" {
		return "unknown", nil
	}
	return strings.ToLower(descriptor.ModelType), nil
}

type resolution struct {
	safeName      string
	targetModules []string
}

// ResolveCache remembers introspection results per model path so repeated
// requests against the same base model skip the descriptor read. The cache
// is owned by whoever constructs the Resolver, not by the package.
type ResolveCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]resolution
}

// NewResolveCache returns a cache holding at most limit entries. When full,
// the cache is cleared rather than evicted entry by entry; model churn per
// worker is low enough that this never matters in practice.
func NewResolveCache(limit int) *ResolveCache {
	if limit <= 0 {
		limit = 32
	}
	return &ResolveCache{limit: limit, entries: make(map[string]resolution)}
}

func (c *ResolveCache) get(key string) (resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[key]
	return res, ok
}

func (c *ResolveCache) put(key string, res resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.limit {
		c.entries = make(map[string]resolution)
	}
	c.entries[key] = res
}

// Resolver derives a filesystem-safe model name and the adapter target
// modules for a model identifier.
type Resolver struct {
	prober ArchitectureProber
	cache  *ResolveCache
	logf   func(format string, args ...any)
}

// NewResolver builds a Resolver around the given prober. A nil cache
// disables memoization; a nil logf discards diagnostics.
func NewResolver(prober ArchitectureProber, cache *ResolveCache, logf func(format string, args ...any)) *Resolver {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Resolver{prober: prober, cache: cache, logf: logf}
}

// Resolve never fails: any probe error degrades to the conservative
// fallback name and module list.
func (r *Resolver) Resolve(ctx context.Context, modelPath string) (string, []string) {
	if r.cache != nil {
		if res, ok := r.cache.get(modelPath); ok {
			return res.safeName, res.targetModules
		}
	}

	modelType, err := r.prober.ModelType(ctx, modelPath)
	if err != nil {
		r.logf("could not determine model architecture for %q: %v", modelPath, err)
		return "unknown_model", fallbackTargetModules
	}

	safeName := SafeModelName(modelPath)
	modules, ok := targetModulesByFamily[modelType]
	if !ok {
		modules = genericTargetModules
	}
	r.logf("detected model type %q for %q, target modules %v", modelType, modelPath, modules)

	if r.cache != nil {
		r.cache.put(modelPath, resolution{safeName: safeName, targetModules: modules})
	}
	return safeName, modules
}

// SafeModelName lowercases the final path segment of the identifier and
// replaces every character outside [a-z0-9_-] with an underscore.
func SafeModelName(modelPath string) string {
	name := strings.ToLower(path.Base(strings.TrimRight(modelPath, "/")))
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

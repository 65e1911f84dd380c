package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type staticProber struct {
	modelType string
	err       error
	calls     int
}

func (p *staticProber) ModelType(context.Context, string) (string, error) {
	p.calls++
	return p.modelType, p.err
}

func TestSafeModelName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/models/Llama-3-8B", "llama-3-8b"},
		{"meta-llama/Meta-Llama-3-8B", "meta-llama-3-8b"},
		{"/models/weird model (v2)", "weird_model__v2_"},
		{"/models/trailing/", "trailing"},
	}
	for _, tc := range cases {
		if got := SafeModelName(tc.in); got != tc.want {
			t.Fatalf("SafeModelName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveKnownFamilies(t *testing.T) {
	for family, want := range map[string]int{
		"llama":   7,
		"mistral": 7,
		"phi":     5,
		"gpt":     3,
		"bert":    4,
	} {
		r := NewResolver(&staticProber{modelType: family}, nil, nil)
		_, modules := r.Resolve(context.Background(), "/models/some-model")
		if len(modules) != want {
			t.Fatalf("family %s: got %d target modules, want %d", family, len(modules), want)
		}
	}
}

func TestResolveUnknownFamilyUsesGenericDefault(t *testing.T) {
	r := NewResolver(&staticProber{modelType: "falcon"}, nil, nil)
	safeName, modules := r.Resolve(context.Background(), "/models/falcon-40b")
	if safeName != "falcon-40b" {
		t.Fatalf("unexpected safe name: %q", safeName)
	}
	if len(modules) != 4 {
		t.Fatalf("unrecognized family must fall back to the generic list, got %v", modules)
	}
}

func TestResolveNeverFails(t *testing.T) {
	inputs := []string{"", "/", "not a path at all", "/models/missing", "💥"}
	r := NewResolver(&staticProber{err: errors.New("unreachable")}, nil, nil)

	for _, in := range inputs {
		safeName, modules := r.Resolve(context.Background(), in)
		if safeName != "unknown_model" {
			t.Fatalf("probe failure for %q should yield unknown_model, got %q", in, safeName)
		}
		if len(modules) == 0 {
			t.Fatalf("probe failure for %q should yield non-empty modules", in)
		}
	}
}

func TestResolveCacheSkipsRepeatedProbes(t *testing.T) {
	prober := &staticProber{modelType: "llama"}
	r := NewResolver(prober, NewResolveCache(8), nil)

	for i := 0; i < 3; i++ {
		r.Resolve(context.Background(), "/models/llama-3")
	}
	if prober.calls != 1 {
		t.Fatalf("expected one probe for a cached model, got %d", prober.calls)
	}

	r.Resolve(context.Background(), "/models/other")
	if prober.calls != 2 {
		t.Fatalf("distinct models must probe separately, got %d calls", prober.calls)
	}
}

func TestConfigFileProber(t *testing.T) {
	dir := t.TempDir()
	descriptor := `{"model_type": "Mistral", "hidden_size": 4096}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(descriptor), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	modelType, err := ConfigFileProber{}.ModelType(context.Background(), dir)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if modelType != "mistral" {
		t.Fatalf("model type = %q, want mistral (normalized)", modelType)
	}

	if _, err := (ConfigFileProber{}).ModelType(context.Background(), filepath.Join(dir, "nope")); err == nil {
		t.Fatalf("missing descriptor must error")
	}
}

func TestResolveCacheBound(t *testing.T) {
	cache := NewResolveCache(2)
	for i := 0; i < 5; i++ {
		cache.put(fmt.Sprintf("model-%d", i), resolution{safeName: "x"})
	}
	cache.mu.Lock()
	size := len(cache.entries)
	cache.mu.Unlock()
	if size > 2 {
		t.Fatalf("cache exceeded its bound: %d entries", size)
	}
}

package finetune

import "testing"

func TestMergeAppliesKnownKeys(t *testing.T) {
	base := DefaultConfig("/cfg/ds.json")

	merged := base.Merge(map[string]any{
		"num_train_epochs":  float64(5),
		"learning_rate":     2e-5,
		"lora_rank":         float64(16),
		"lr_scheduler_type": "cosine",
	})

	if merged.NumTrainEpochs != 5 {
		t.Fatalf("num_train_epochs = %d, want 5", merged.NumTrainEpochs)
	}
	if merged.LearningRate != 2e-5 {
		t.Fatalf("learning_rate = %v, want 2e-5", merged.LearningRate)
	}
	if merged.LoraRank != 16 {
		t.Fatalf("lora_rank = %d, want 16", merged.LoraRank)
	}
	if merged.LRSchedulerType != "cosine" {
		t.Fatalf("lr_scheduler_type = %q, want cosine", merged.LRSchedulerType)
	}

	// The receiver is not mutated.
	if base.NumTrainEpochs != 3 || base.LoraRank != 8 {
		t.Fatalf("Merge mutated the base config: %+v", base)
	}
}

func TestMergeIgnoresUnknownKeysAndBadTypes(t *testing.T) {
	base := DefaultConfig("/cfg/ds.json")

	merged := base.Merge(map[string]any{
		"not_a_field":      123,
		"lora_rank":        "not a number",
		"num_train_epochs": true,
	})

	if merged != base {
		t.Fatalf("unknown keys and bad types must leave the config unchanged: %+v", merged)
	}
}

func TestMergeCoercesStringNumbers(t *testing.T) {
	merged := DefaultConfig("/cfg/ds.json").Merge(map[string]any{
		"world_size":   "8",
		"warmup_ratio": "0.2",
	})
	if merged.WorldSize != 8 {
		t.Fatalf("world_size = %d, want 8", merged.WorldSize)
	}
	if merged.WarmupRatio != 0.2 {
		t.Fatalf("warmup_ratio = %v, want 0.2", merged.WarmupRatio)
	}
}

func TestTargetModuleOverride(t *testing.T) {
	modules, ok := TargetModuleOverride(map[string]any{
		"lora_target_modules": []any{"q_proj", "o_proj"},
	})
	if !ok {
		t.Fatalf("expected override to be recognized")
	}
	if len(modules) != 2 || modules[0] != "q_proj" || modules[1] != "o_proj" {
		t.Fatalf("unexpected modules: %v", modules)
	}

	if _, ok := TargetModuleOverride(map[string]any{}); ok {
		t.Fatalf("absent key must report no override")
	}
	if _, ok := TargetModuleOverride(map[string]any{"lora_target_modules": "q_proj"}); ok {
		t.Fatalf("non-list override must be ignored")
	}
}

package finetune

import "strconv"

// Config holds the trainer hyperparameters for one run. A fresh value is
// created per request, merged once with caller overrides, and treated as
// immutable afterwards.
type Config struct {
	WorldSize                 int
	NumTrainEpochs            int
	PerDeviceTrainBatchSize   int
	PerDeviceEvalBatchSize    int
	GradientAccumulationSteps int
	SaveStrategy              string
	EvalStrategy              string
	EvalSteps                 int
	LearningRate              float64
	WarmupRatio               float64
	LRSchedulerType           string
	MaxGradNorm               float64
	LoggingSteps              int
	LoraRank                  int
	LoraAlpha                 int
	LoraDropout               float64
	MaxSeqLength              int
	AdamEpsilon               float64
	CacheSizeLimit            int
	DeepspeedConfig           string
}

// DefaultConfig returns the baseline hyperparameters used when the caller
// supplies no overrides.
func DefaultConfig(deepspeedConfig string) Config {
	return Config{
		WorldSize:                 4,
		NumTrainEpochs:            3,
		PerDeviceTrainBatchSize:   1,
		PerDeviceEvalBatchSize:    1,
		GradientAccumulationSteps: 16,
		SaveStrategy:              "no",
		EvalStrategy:              "epoch",
		EvalSteps:                 50,
		LearningRate:              5e-5,
		WarmupRatio:               0.1,
		LRSchedulerType:           "linear",
		MaxGradNorm:               1.0,
		LoggingSteps:              10,
		LoraRank:                  8,
		LoraAlpha:                 16,
		LoraDropout:               0.05,
		MaxSeqLength:              2048,
		AdamEpsilon:               1e-8,
		CacheSizeLimit:            64,
		DeepspeedConfig:           deepspeedConfig,
	}
}

// Merge returns a copy of the config with recognized override keys applied.
// Keys that are not part of the schema are ignored, as are values that do
// not coerce to the field's type. JSON numbers arrive as float64.
func (c Config) Merge(overrides map[string]any) Config {
	merged := c
	for key, value := range overrides {
		switch key {
		case "world_size":
			if v, ok := toInt(value); ok {
				merged.WorldSize = v
			}
		case "num_train_epochs":
			if v, ok := toInt(value); ok {
				merged.NumTrainEpochs = v
			}
		case "per_device_train_batch_size":
			if v, ok := toInt(value); ok {
				merged.PerDeviceTrainBatchSize = v
			}
		case "per_device_eval_batch_size":
			if v, ok := toInt(value); ok {
				merged.PerDeviceEvalBatchSize = v
			}
		case "gradient_accumulation_steps":
			if v, ok := toInt(value); ok {
				merged.GradientAccumulationSteps = v
			}
		case "save_strategy":
			if v, ok := value.(string); ok {
				merged.SaveStrategy = v
			}
		case "eval_strategy":
			if v, ok := value.(string); ok {
				merged.EvalStrategy = v
			}
		case "eval_steps":
			if v, ok := toInt(value); ok {
				merged.EvalSteps = v
			}
		case "learning_rate":
			if v, ok := toFloat(value); ok {
				merged.LearningRate = v
			}
		case "warmup_ratio":
			if v, ok := toFloat(value); ok {
				merged.WarmupRatio = v
			}
		case "lr_scheduler_type":
			if v, ok := value.(string); ok {
				merged.LRSchedulerType = v
			}
		case "max_grad_norm":
			if v, ok := toFloat(value); ok {
				merged.MaxGradNorm = v
			}
		case "logging_steps":
			if v, ok := toInt(value); ok {
				merged.LoggingSteps = v
			}
		case "lora_rank":
			if v, ok := toInt(value); ok {
				merged.LoraRank = v
			}
		case "lora_alpha":
			if v, ok := toInt(value); ok {
				merged.LoraAlpha = v
			}
		case "lora_dropout":
			if v, ok := toFloat(value); ok {
				merged.LoraDropout = v
			}
		case "max_seq_length":
			if v, ok := toInt(value); ok {
				merged.MaxSeqLength = v
			}
		case "adam_epsilon":
			if v, ok := toFloat(value); ok {
				merged.AdamEpsilon = v
			}
		case "cache_size_limit":
			if v, ok := toInt(value); ok {
				merged.CacheSizeLimit = v
			}
		case "deepspeed_config":
			if v, ok := value.(string); ok {
				merged.DeepspeedConfig = v
			}
		}
	}
	return merged
}

// TargetModuleOverride extracts the caller-supplied lora_target_modules
// list, if one is present and well formed.
func TargetModuleOverride(overrides map[string]any) ([]string, bool) {
	raw, ok := overrides["lora_target_modules"]
	if !ok {
		return nil, false
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	modules := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		modules = append(modules, s)
	}
	return modules, true
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

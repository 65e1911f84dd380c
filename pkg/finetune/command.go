package finetune

import "strconv"

// TrainerPaths locates the training framework's entry points inside the
// runtime (host or container image).
type TrainerPaths struct {
	SpawnScript string
	TrainScript string
}

// DefaultTrainerPaths points at the optimum-habana example scripts baked
// into the trainer image.
func DefaultTrainerPaths() TrainerPaths {
	return TrainerPaths{
		SpawnScript: "/app/optimum-habana/examples/gaudi_spawn.py",
		TrainScript: "/app/optimum-habana/examples/language-modeling/run_lora_clm.py",
	}
}

// BuildCommand renders the trainer invocation. The flag order is canonical:
// identical inputs produce identical argument vectors, so a run's command
// line can be diffed against another's.
func BuildCommand(cfg Config, paths TrainerPaths, modelPath, trainPath, valPath, outputDir string, targetModules []string) []string {
	cmd := []string{
		"python", paths.SpawnScript,
		"--world_size", strconv.Itoa(cfg.WorldSize),
		"--use_deepspeed",
		paths.TrainScript,
		"--model_name_or_path", modelPath,
		"--train_file", trainPath,
		"--validation_file", valPath,
		"--do_train",
		"--do_eval",
		"--bf16", "True",
		"--output_dir", outputDir,
		"--num_train_epochs", strconv.Itoa(cfg.NumTrainEpochs),
		"--per_device_train_batch_size", strconv.Itoa(cfg.PerDeviceTrainBatchSize),
		"--per_device_eval_batch_size", strconv.Itoa(cfg.PerDeviceEvalBatchSize),
		"--gradient_accumulation_steps", strconv.Itoa(cfg.GradientAccumulationSteps),
		"--save_strategy", cfg.SaveStrategy,
		"--eval_strategy", cfg.EvalStrategy,
		"--eval_steps", strconv.Itoa(cfg.EvalSteps),
		"--learning_rate", formatFloat(cfg.LearningRate),
		"--warmup_ratio", formatFloat(cfg.WarmupRatio),
		"--lr_scheduler_type", cfg.LRSchedulerType,
		"--max_grad_norm", formatFloat(cfg.MaxGradNorm),
		"--logging_steps", strconv.Itoa(cfg.LoggingSteps),
		"--use_habana",
		"--use_lazy_mode", "False",
		"--throughput_warmup_steps", "3",
		"--lora_rank", strconv.Itoa(cfg.LoraRank),
		"--lora_alpha", strconv.Itoa(cfg.LoraAlpha),
		"--lora_dropout", formatFloat(cfg.LoraDropout),
		"--max_seq_length", strconv.Itoa(cfg.MaxSeqLength),
		"--adam_epsilon", formatFloat(cfg.AdamEpsilon),
		"--deepspeed", cfg.DeepspeedConfig,
		"--torch_compile_backend", "hpu_backend",
		"--torch_compile",
		"--fp8",
		"--use_flash_attention", "True",
		"--flash_attention_causal_mask", "True",
		"--cache_size_limit", strconv.Itoa(cfg.CacheSizeLimit),
		"--use_regional_compilation",
		"--compile_from_sec_iteration",
		"--allow_unspec_int_on_nn_module", "True",
	}

	if len(targetModules) > 0 {
		cmd = append(cmd, "--lora_target_modules")
		cmd = append(cmd, targetModules...)
	}

	return cmd
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package finetune

import (
	"reflect"
	"testing"
)

func testCommandInputs() (Config, TrainerPaths) {
	return DefaultConfig("/cfg/ds.json"), DefaultTrainerPaths()
}

func TestBuildCommandDeterministic(t *testing.T) {
	cfg, paths := testCommandInputs()
	modules := []string{"q_proj", "v_proj"}

	first := BuildCommand(cfg, paths, "/models/llama", "/w/train.json", "/w/val.json", "/w/output", modules)
	second := BuildCommand(cfg, paths, "/models/llama", "/w/train.json", "/w/val.json", "/w/output", modules)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different commands:\n%v\n%v", first, second)
	}
}

func TestBuildCommandSingleFieldChange(t *testing.T) {
	cfg, paths := testCommandInputs()
	base := BuildCommand(cfg, paths, "/m", "/t", "/v", "/o", nil)

	changed := cfg
	changed.LoraRank = 32
	got := BuildCommand(changed, paths, "/m", "/t", "/v", "/o", nil)

	if len(base) != len(got) {
		t.Fatalf("changing one field changed the vector length: %d vs %d", len(base), len(got))
	}

	diffs := 0
	for i := range base {
		if base[i] != got[i] {
			diffs++
			if base[i-1] != "--lora_rank" {
				t.Fatalf("unexpected diff at %d: %q -> %q (flag %q)", i, base[i], got[i], base[i-1])
			}
			if got[i] != "32" {
				t.Fatalf("lora_rank value = %q, want 32", got[i])
			}
		}
	}
	if diffs != 1 {
		t.Fatalf("expected exactly one differing argument, got %d", diffs)
	}
}

func TestBuildCommandTargetModules(t *testing.T) {
	cfg, paths := testCommandInputs()

	without := BuildCommand(cfg, paths, "/m", "/t", "/v", "/o", nil)
	for _, arg := range without {
		if arg == "--lora_target_modules" {
			t.Fatalf("empty target modules must omit the flag entirely")
		}
	}

	with := BuildCommand(cfg, paths, "/m", "/t", "/v", "/o", []string{"q_proj", "k_proj"})
	if len(with) != len(without)+3 {
		t.Fatalf("expected flag plus two modules appended, got %d vs %d args", len(with), len(without))
	}
	tail := with[len(with)-3:]
	if tail[0] != "--lora_target_modules" || tail[1] != "q_proj" || tail[2] != "k_proj" {
		t.Fatalf("unexpected target module group: %v", tail)
	}
}

func TestBuildCommandCanonicalPrefix(t *testing.T) {
	cfg, paths := testCommandInputs()
	cmd := BuildCommand(cfg, paths, "/models/llama-3", "/w/train.json", "/w/val.json", "/w/output", nil)

	if cmd[0] != "python" || cmd[1] != paths.SpawnScript {
		t.Fatalf("command must start with the spawn entry point: %v", cmd[:2])
	}

	want := map[string]string{
		"--model_name_or_path": "/models/llama-3",
		"--train_file":         "/w/train.json",
		"--validation_file":    "/w/val.json",
		"--output_dir":         "/w/output",
		"--num_train_epochs":   "3",
		"--learning_rate":      "5e-05",
		"--deepspeed":          "/cfg/ds.json",
	}
	for flag, value := range want {
		found := false
		for i := 0; i < len(cmd)-1; i++ {
			if cmd[i] == flag && cmd[i+1] == value {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing %s %s in %v", flag, value, cmd)
		}
	}
}

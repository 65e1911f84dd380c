package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig captures runtime settings for the fine-tune worker.
type WorkerConfig struct {
	RedisURL        string        `mapstructure:"redis_url"`
	QueueName       string        `mapstructure:"queue_name"`
	ArchiveRoot     string        `mapstructure:"archive_root"`
	ModelsRoot      string        `mapstructure:"models_root"`
	SharedTmpRoot   string        `mapstructure:"shared_tmp_root"`
	FineTuneTimeout time.Duration `mapstructure:"fine_tune_timeout"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`
	StartSignalURL  string        `mapstructure:"start_signal_url"`

	// Backend selects how the trainer runs: "process" or "docker".
	Backend     string `mapstructure:"backend"`
	DockerImage string `mapstructure:"docker_image"`
	// DockerRuntime names the accelerator container runtime.
	DockerRuntime string `mapstructure:"docker_runtime"`
	SharedModels  string `mapstructure:"shared_models"`

	SpawnScript     string `mapstructure:"spawn_script"`
	TrainScript     string `mapstructure:"train_script"`
	DeepspeedConfig string `mapstructure:"deepspeed_config"`

	// DatabaseURL enables run persistence when set.
	DatabaseURL string `mapstructure:"database_url"`

	// ListenAddr exposes the live run status API from the worker itself.
	// Empty disables the listener.
	ListenAddr string `mapstructure:"listen_addr"`
	AdminToken string `mapstructure:"admin_token"`

	MirrorAddr       string `mapstructure:"mirror_addr"`
	MirrorUser       string `mapstructure:"mirror_user"`
	MirrorPassword   string `mapstructure:"mirror_password"`
	MirrorPrivateKey string `mapstructure:"mirror_private_key"`
	MirrorRemoteRoot string `mapstructure:"mirror_remote_root"`
}

// LoadWorker loads worker configuration from defaults, files, and env vars.
func LoadWorker() (WorkerConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("FINETUNE")
	v.AutomaticEnv()

	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue_name", "model_fine_tune_requests")
	v.SetDefault("archive_root", "/app/endpoints/fine-tuning/finetune_runs")
	v.SetDefault("models_root", "/models")
	v.SetDefault("shared_tmp_root", "")
	v.SetDefault("fine_tune_timeout", 7200*time.Second)
	v.SetDefault("callback_timeout", 10*time.Second)
	v.SetDefault("start_signal_url", "")
	v.SetDefault("backend", "process")
	v.SetDefault("docker_image", "ft-habana:latest")
	v.SetDefault("docker_runtime", "habana")
	v.SetDefault("shared_models", "/shared/models")
	v.SetDefault("spawn_script", "/app/optimum-habana/examples/gaudi_spawn.py")
	v.SetDefault("train_script", "/app/optimum-habana/examples/language-modeling/run_lora_clm.py")
	v.SetDefault("deepspeed_config", "/app/optimum-habana/examples/language-modeling/llama3_ds_zero1_config.json")
	v.SetDefault("database_url", "")
	v.SetDefault("listen_addr", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("mirror_addr", "")
	v.SetDefault("mirror_user", "")
	v.SetDefault("mirror_password", "")
	v.SetDefault("mirror_private_key", "")
	v.SetDefault("mirror_remote_root", "finetune_runs")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return WorkerConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// RestConfig captures runtime settings for the run status API.
type RestConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	AdminToken  string `mapstructure:"admin_token"`
}

// LoadRest loads the run status API configuration.
func LoadRest() (RestConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("FINETUNE_REST")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8086")
	v.SetDefault("database_url", "")
	v.SetDefault("admin_token", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return RestConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg RestConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RestConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

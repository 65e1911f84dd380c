package finetune

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ContainerRunner executes the trainer inside a container via the docker
// CLI. The job's working directory is bound at /workspace and the shared
// model weights are mounted read-only, matching the trainer image layout.
type ContainerRunner struct {
	Image     string
	Runtime   string
	ModelsDir string
	// RequireDevices makes a run fail at launch when no accelerator
	// device nodes are visible on the host.
	RequireDevices bool
}

const containerWorkspace = "/workspace"

func (c ContainerRunner) Run(ctx context.Context, spec RunSpec) (ExitStatus, error) {
	devices := DiscoverAcceleratorDevices()
	if c.RequireDevices && len(devices) == 0 {
		return ExitStatus{}, fmt.Errorf("launch trainer: no accelerator devices available")
	}

	name := "ft_" + filepath.Base(spec.WorkDir)

	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", spec.WorkDir + ":" + containerWorkspace,
		"-w", containerWorkspace,
	}
	if c.ModelsDir != "" {
		args = append(args, "-v", c.ModelsDir+":/models:ro")
	}
	if c.Runtime != "" {
		args = append(args, "--runtime", c.Runtime)
	}
	for _, device := range devices {
		args = append(args, "--device", device+":"+device)
	}

	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", key+"="+spec.Env[key])
	}

	args = append(args, c.Image)
	args = append(args, spec.Argv...)

	cmd := exec.Command("docker", args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = os.Environ()

	// Killing the docker CLI detaches the stream but leaves the container
	// running; stop the container itself.
	stop := func() {
		_ = exec.Command("docker", "kill", name).Run()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	inner := spec
	inner.Env = nil
	return superviseProcess(ctx, cmd, inner, stop)
}

// DiscoverAcceleratorDevices lists the Gaudi device nodes present on the
// host, checking the accel subsystem first and the legacy habanalabs
// directory as a fallback.
func DiscoverAcceleratorDevices() []string {
	var devices []string
	for i := 0; i < 16; i++ {
		node := fmt.Sprintf("/dev/accel%d", i)
		if _, err := os.Stat(node); err == nil {
			devices = append(devices, node)
		}
	}
	if len(devices) > 0 {
		return devices
	}

	entries, err := os.ReadDir("/dev/habanalabs")
	if err != nil {
		return devices
	}
	for _, entry := range entries {
		node := filepath.Join("/dev/habanalabs", entry.Name())
		if _, statErr := os.Stat(node); statErr == nil {
			devices = append(devices, node)
		}
	}
	return devices
}

// ContainerDataPaths rewrites host-side train/val/output paths into their
// in-container equivalents under the workspace mount.
func ContainerDataPaths(trainPath, valPath string) (string, string, string) {
	train := containerWorkspace + "/data/" + filepath.Base(trainPath)
	val := containerWorkspace + "/data/" + filepath.Base(valPath)
	out := containerWorkspace + "/output"
	return train, val, out
}

// IsContainerBackend reports whether the configured backend name selects
// the container runner.
func IsContainerBackend(backend string) bool {
	return strings.EqualFold(strings.TrimSpace(backend), "docker")
}

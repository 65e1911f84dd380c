package finetune

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Archiver persists run artifacts. Archival is best-effort: a run's
// outcome is already decided by the time artifacts are copied, so failures
// here are logged and swallowed.
type Archiver struct {
	ArchiveRoot string
	ModelsRoot  string
	Mirror      ArchiveMirror
	Logf        func(format string, args ...any)
}

// ArchiveMirror pushes an archived run tree to secondary storage.
type ArchiveMirror interface {
	Push(localDir, remoteName string) error
}

func (a *Archiver) logf(format string, args ...any) {
	if a.Logf != nil {
		a.Logf(format, args...)
	}
}

// Archive copies the full working directory to
// {archive_root}/run_{requestID}{suffix}. Re-archiving the same request
// overwrites the same destination, so a retried archive step cannot leave
// duplicates behind.
func (a *Archiver) Archive(workDir, requestID, suffix string) string {
	name := fmt.Sprintf("run_%s%s", requestID, suffix)
	dest := filepath.Join(a.ArchiveRoot, name)
	if err := copyTree(workDir, dest); err != nil {
		a.logf("failed to archive %s to %s: %v", workDir, dest, err)
		return ""
	}
	a.logf("archived workspace to %s", dest)

	if a.Mirror != nil {
		if err := a.Mirror.Push(dest, name); err != nil {
			a.logf("archive mirror push failed for %s: %v", name, err)
		}
	}
	return dest
}

// PublishAdapter copies the trained adapter out of the run's output
// directory into {models_root}/{safeName}_{requestID}. When the trainer
// wrote checkpoint subdirectories, the lexicographically last one (the
// highest checkpoint under standard naming) is published; otherwise the
// output directory itself is.
func (a *Archiver) PublishAdapter(outputDir, safeName, requestID string) (string, error) {
	source := outputDir
	if checkpoint := latestCheckpoint(outputDir); checkpoint != "" {
		source = checkpoint
	}

	dest := filepath.Join(a.ModelsRoot, fmt.Sprintf("%s_%s", safeName, requestID))
	if err := copyTree(source, dest); err != nil {
		return "", fmt.Errorf("publish adapter: %w", err)
	}
	a.logf("adapter saved to %s", dest)
	return dest, nil
}

func latestCheckpoint(outputDir string) string {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return ""
	}

	var checkpoints []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "checkpoint") {
			checkpoints = append(checkpoints, entry.Name())
		}
	}
	if len(checkpoints) == 0 {
		return ""
	}
	sort.Strings(checkpoints)
	return filepath.Join(outputDir, checkpoints[len(checkpoints)-1])
}

func copyTree(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dest, info.Mode())
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := copyTree(srcPath, destPath); err != nil {
				return err
			}
			continue
		}
		entryInfo, err := entry.Info()
		if err != nil {
			return err
		}
		if err := copyFile(srcPath, destPath, entryInfo.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

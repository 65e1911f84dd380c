package finetune

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// trainSplit computes the number of examples assigned to the train
// partition for n > 1 examples: 90%, but never fewer than one.
func trainSplit(n int) int {
	split := n * 9 / 10
	if split < 1 {
		split = 1
	}
	return split
}

// PrepareDataset splits the examples into train and validation JSON files
// under dataDir. With a single example the validation set duplicates the
// train set so the trainer never sees an empty validation file. Examples
// are copied verbatim; their inner shape belongs to the trainer. logf
// receives validation warnings only.
func PrepareDataset(examples []json.RawMessage, dataDir, requestID string, logf func(format string, args ...any)) (string, string, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	for i, example := range examples {
		var record map[string]json.RawMessage
		if err := json.Unmarshal(example, &record); err != nil {
			return "", "", fmt.Errorf("example %d is not an object: %w", i, err)
		}
		if _, ok := record["input"]; !ok {
			if _, ok := record["text"]; !ok {
				logf("example %d missing 'input' or 'text' field", i)
			}
		}
	}

	var train, val []json.RawMessage
	if len(examples) > 1 {
		split := trainSplit(len(examples))
		train, val = examples[:split], examples[split:]
	} else {
		train, val = examples, examples
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create data dir: %w", err)
	}

	trainPath := filepath.Join(dataDir, fmt.Sprintf("train_%s.json", requestID))
	valPath := filepath.Join(dataDir, fmt.Sprintf("val_%s.json", requestID))

	if err := writeExamples(trainPath, train); err != nil {
		return "", "", err
	}
	if err := writeExamples(valPath, val); err != nil {
		return "", "", err
	}
	return trainPath, valPath, nil
}

func writeExamples(path string, examples []json.RawMessage) error {
	data, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return fmt.Errorf("encode examples: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

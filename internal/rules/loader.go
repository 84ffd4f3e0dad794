package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromDirectory walks dirPath and decodes every YAML file it finds
// into a rule. A file that fails to decode becomes a validation error
// rather than aborting the walk, so one bad rule never blocks the rest of
// the directory from loading.
func LoadFromDirectory(dirPath string) ([]RuleWithFile, []ValidationError) {
	var loaded []RuleWithFile
	var problems []ValidationError

	walkErr := filepath.WalkDir(dirPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !isRuleFile(path) {
			return nil
		}

		rule, err := decodeRuleFile(path)
		if err != nil {
			problems = append(problems, ValidationError{File: path, Message: err.Error()})
			return nil
		}
		loaded = append(loaded, RuleWithFile{Rule: rule, File: path})
		return nil
	})
	if walkErr != nil {
		problems = append(problems, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("walking rules directory: %v", walkErr),
		})
		return nil, problems
	}

	return loaded, problems
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var rule RuleFile
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("decoding rule file: %w", err)
	}

	return &rule, nil
}

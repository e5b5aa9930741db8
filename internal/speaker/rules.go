// ABOUTME: Loading of speaker-detection rule files
// ABOUTME: Rules are TOML with environment variable expansion, same format as bridge configs

package speaker

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// RuleFile is the on-disk shape of a speaker rule set.
//
//	max_label_length = 32
//
//	[[rule]]
//	kind = "exact"
//	value = "narration"
type RuleFile struct {
	MaxLabelLength int    `toml:"max_label_length"`
	Rules          []Rule `toml:"rule"`
}

// LoadRules reads a rule file and builds a Parser from it.
// Environment variables in ${VAR} form are expanded before parsing.
func LoadRules(path string) (*Parser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var rf RuleFile
	if _, err := toml.Decode(expanded, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule file %s contains no rules", path)
	}

	return NewParser(rf.Rules, rf.MaxLabelLength)
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

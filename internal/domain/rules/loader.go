package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadConfigFile reads and validates a clinical rules JSON file.
func LoadConfigFile(path string) (*ClinicalRulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clinical rules: %w", err)
	}
	var cfg ClinicalRulesConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse clinical rules %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clinical rules %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadScenarioDir reads every *.json scenario in a directory.
func LoadScenarioDir(dir string) ([]*ScenarioDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var scenarios []*ScenarioDefinition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", e.Name(), err)
		}
		var s ScenarioDefinition
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", e.Name(), err)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %s: missing id", e.Name())
		}
		scenarios = append(scenarios, &s)
	}
	return scenarios, nil
}

// Validate checks the structural invariants: non-empty ordered stage lists
// and prerequisite keys that exist in the catalog.
func (c *ClinicalRulesConfig) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	keys := make(map[string]bool, len(c.Investigations))
	for _, a := range c.Investigations {
		if a.Key == "" {
			return fmt.Errorf("action with empty key")
		}
		if keys[a.Key] {
			return fmt.Errorf("duplicate action key %q", a.Key)
		}
		keys[a.Key] = true
	}
	for _, a := range c.Investigations {
		for _, pre := range a.Prerequisites {
			if !keys[pre] {
				return fmt.Errorf("action %q: prerequisite %q not in catalog", a.Key, pre)
			}
		}
		if a.RequiresPrescription && a.PrescriptionType == "" {
			return fmt.Errorf("action %q: requires_prescription without prescription_type", a.Key)
		}
	}
	for name, curve := range c.DeteriorationCurves {
		if len(curve.Stages) == 0 {
			return fmt.Errorf("deterioration curve %q has no stages", name)
		}
		for i, st := range curve.Stages {
			if st.DurationMs <= 0 {
				return fmt.Errorf("curve %q stage %d (%s): duration must be positive", name, i, st.Name)
			}
		}
	}
	return nil
}

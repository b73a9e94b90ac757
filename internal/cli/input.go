package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hray3182/instancegen/internal/models"
)

// InputDataError reports an input file that cannot be read or decoded.
type InputDataError struct {
	Path string
	Err  error
}

func (e *InputDataError) Error() string {
	return fmt.Sprintf("invalid input file %s: %v", e.Path, e.Err)
}

func (e *InputDataError) Unwrap() error {
	return e.Err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &InputDataError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &InputDataError{Path: path, Err: err}
	}
	return nil
}

func readTemplates(path string) ([]models.RecurringEventTemplate, error) {
	var templates []models.RecurringEventTemplate
	if err := readJSON(path, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func readRules(path string) ([]models.RecurrenceRule, error) {
	var rules []models.RecurrenceRule
	if err := readJSON(path, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

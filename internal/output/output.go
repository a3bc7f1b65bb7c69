package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/validation"
)

// Format represents the output format
type Format string

const (
	// FormatText is the default human-readable text format
	FormatText Format = "text"
	// FormatJSON is machine-readable JSON format
	FormatJSON Format = "json"
)

// ParseFormat parses a format string, ignoring case, and validates it
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case FormatText, FormatJSON:
		return format, nil
	default:
		return FormatText, fmt.Errorf("invalid output format: %q (must be 'text' or 'json')", s)
	}
}

// Formatter handles outputting data in different formats
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a new Formatter with the specified format
func New(format Format) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer (useful for testing)
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Format returns the configured output format
func (f *Formatter) Format() Format {
	return f.format
}

// Result is the outcome of a library action. Failed results keep their
// message and data so a partial cleanup still shows what was deleted.
type Result struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// DeletedResult reports a single library file removed by --clear-file.
func DeletedResult(file edr.LibraryFile) *Result {
	r := &Result{Success: true, Message: "Deleted " + file.Name}
	if file.ID != "" && file.ID != file.Name {
		r.Data = map[string]interface{}{"id": file.ID}
	}
	return r
}

// ClearResult summarizes a bulk library cleanup. err is the final failure,
// if any.
func ClearResult(deleted, failed []string, attempts int, err error) *Result {
	r := &Result{
		Success: err == nil,
		Message: fmt.Sprintf("Deleted %d library files", len(deleted)),
		Data:    map[string]interface{}{"attempts": attempts},
	}
	if len(deleted) > 0 {
		r.Data["deleted"] = strings.Join(deleted, ", ")
	}
	if len(failed) > 0 {
		r.Data["failed"] = strings.Join(failed, ", ")
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Print outputs a result in the configured format
func (f *Formatter) Print(result *Result) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(result)
	case FormatText:
		return f.printText(result)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// printJSON outputs any value as indented JSON
func (f *Formatter) printJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printText outputs the result as human-readable text
func (f *Formatter) printText(result *Result) error {
	var b strings.Builder
	if !result.Success {
		if result.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", result.Error)
		} else if result.Message == "" && len(result.Data) == 0 {
			b.WriteString("Command failed\n")
		}
	}
	if result.Message != "" {
		fmt.Fprintln(&b, result.Message)
	}

	// Data keys are sorted for stable output
	keys := make([]string, 0, len(result.Data))
	for k := range result.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, result.Data[k])
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}

	_, err := io.WriteString(f.writer, b.String())
	return err
}

// ValidationError represents a validation error in structured format
type ValidationError struct {
	Field       string `json:"field"`
	Value       string `json:"value,omitempty"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// ValidationResult represents validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidationResult converts collected validation errors. Errors that are
// not *validation.Error keep only their message.
func NewValidationResult(errs []error) *ValidationResult {
	result := &ValidationResult{Valid: len(errs) == 0}
	for _, err := range errs {
		var valErr *validation.Error
		if errors.As(err, &valErr) {
			result.Errors = append(result.Errors, ValidationError{
				Field:       valErr.Field,
				Value:       valErr.Value,
				Message:     valErr.Message,
				Remediation: valErr.Remediation,
			})
			continue
		}
		result.Errors = append(result.Errors, ValidationError{Message: err.Error()})
	}
	return result
}

// PrintValidation outputs validation results
func (f *Formatter) PrintValidation(result *ValidationResult) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(result)
	case FormatText:
		if result.Valid {
			_, err := fmt.Fprintln(f.writer, "Validation passed")
			return err
		}
		_, err := fmt.Fprintln(f.writer, "Validation failed:")
		if err != nil {
			return err
		}
		for _, e := range result.Errors {
			_, err = fmt.Fprintf(f.writer, "  - %s: %s\n", e.Field, e.Message)
			if err != nil {
				return err
			}
			if e.Remediation != "" {
				_, err = fmt.Fprintf(f.writer, "    Remediation: %s\n", e.Remediation)
				if err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

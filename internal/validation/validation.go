package validation

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// machineIDRegex matches both Defender machine IDs (40 hex chars) and
// Vision One agent GUIDs.
var machineIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,127}$`)

// Error represents a validation error with an actionable remediation hint
type Error struct {
	Field       string
	Value       string
	Message     string
	Remediation string
}

func (e *Error) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s: %s\nRemediation: %s", e.Field, e.Message, e.Remediation)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MachineID validates a vendor machine identifier
func MachineID(field, value string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	if !machineIDRegex.MatchString(value) {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     fmt.Sprintf("invalid machine ID: %q", value),
			Remediation: "Use the ID column of --list-endpoints (letters, digits and dashes only)",
		}
	}
	return nil
}

// Base64 validates that value decodes as standard base64, padded or not
func Base64(field, value string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	trimmed := strings.TrimSpace(value)
	if _, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return nil
	}
	if _, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return nil
	}
	return &Error{
		Field:       field,
		Value:       value,
		Message:     "value is not valid base64",
		Remediation: "Encode the command first, e.g. printf 'whoami' | base64",
	}
}

// LocalFile validates that value names an existing regular file
func LocalFile(field, value string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	info, err := os.Stat(value)
	if err != nil || !info.Mode().IsRegular() {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     fmt.Sprintf("not a readable file: %q", value),
			Remediation: "Provide the path of an existing local file",
		}
	}
	return nil
}

// FileName validates a library file reference, which must not contain path
// separators
func FileName(field, value string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	if strings.ContainsAny(value, `/\`) {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     fmt.Sprintf("invalid library file name: %q", value),
			Remediation: "Use the FILE NAME or ID column of --list-library",
		}
	}
	return nil
}

// URL validates a URL
func URL(field, value string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     fmt.Sprintf("invalid URL: %q", value),
			Remediation: "Provide a valid URL with scheme and host (e.g., https://api.xdr.trendmicro.com)",
		}
	}
	return nil
}

// Required validates that a field is not empty
func Required(field, value string) error {
	if value == "" {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     "field is required but not set",
			Remediation: fmt.Sprintf("Set %s via command-line flag or config file", field),
		}
	}
	return nil
}

// OneOf validates that a value is one of the allowed values
func OneOf(field, value string, allowed []string) error {
	if value == "" {
		return nil // Empty values are handled by Required()
	}

	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return &Error{
		Field:       field,
		Value:       value,
		Message:     fmt.Sprintf("invalid value: %q", value),
		Remediation: fmt.Sprintf("Must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// OneOfFold is OneOf ignoring case
func OneOfFold(field, value string, allowed []string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return OneOf(field, value, allowed)
}

// RequiredWith validates that if any of the fields are set, this field must also be set
func RequiredWith(field, value string, otherFields map[string]string) error {
	if value != "" {
		return nil // Field is set, validation passes
	}

	// Check if any of the other fields are set
	var setFields []string
	for k, v := range otherFields {
		if v != "" {
			setFields = append(setFields, k)
		}
	}

	if len(setFields) > 0 {
		return &Error{
			Field:       field,
			Value:       value,
			Message:     "field is required when other fields are set",
			Remediation: fmt.Sprintf("%s is required when %s is set", field, strings.Join(setFields, ", ")),
		}
	}

	return nil
}

// ExactlyOne validates that exactly one of the named selections is set.
// names fixes the order used in messages.
func ExactlyOne(field string, names []string, set map[string]bool) error {
	var chosen []string
	for _, n := range names {
		if set[n] {
			chosen = append(chosen, n)
		}
	}
	switch len(chosen) {
	case 1:
		return nil
	case 0:
		return &Error{
			Field:       field,
			Message:     "no action selected",
			Remediation: fmt.Sprintf("Choose one of: %s", strings.Join(names, ", ")),
		}
	default:
		return &Error{
			Field:       field,
			Value:       strings.Join(chosen, ", "),
			Message:     "only one action may be selected",
			Remediation: fmt.Sprintf("Pick just one of: %s", strings.Join(chosen, ", ")),
		}
	}
}

// Errors collects multiple validation errors
type Errors []error

func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed:\n%s", strings.Join(messages, "\n"))
}

// HasErrors returns true if there are any errors
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Add appends err if it is not nil
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// Err returns the collected errors, or nil if there are none
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/validation"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the credential file name looked up when no path is given.
const DefaultFile = "vlad.yaml"

// MDATPCredential is the Defender app registration of one client.
type MDATPCredential struct {
	TenantID  string `yaml:"TENANTID"`
	AppID     string `yaml:"APPID"`
	AppSecret string `yaml:"APPSECRET"`
	BaseURL   string `yaml:"BASEURL,omitempty"`
	LoginURL  string `yaml:"LOGINURL,omitempty"`
}

// TMV1Credential is the Vision One API token of one client.
type TMV1Credential struct {
	BaseURL string `yaml:"BASEURL"`
	Token   string `yaml:"TOKEN"`
}

// Client holds the vendor sections configured for one client.
type Client struct {
	MDATP *MDATPCredential `yaml:"MDATP,omitempty"`
	TMV1  *TMV1Credential  `yaml:"TMV1,omitempty"`
}

// Credentials maps client names to their vendor sections.
type Credentials map[string]Client

// ResolvePath picks the credential file: an explicit path wins, then
// vlad.yaml in the working directory, then vlad.yaml next to the executable.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", &validation.Error{
				Field:       KeyConfig,
				Value:       explicit,
				Message:     fmt.Sprintf("config file not found: %v", err),
				Remediation: "Pass an existing file with --config or VLAD_CONFIG",
			}
		}
		return explicit, nil
	}

	candidates := []string{DefaultFile}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), DefaultFile))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", &validation.Error{
		Field:       KeyConfig,
		Message:     "no config file found",
		Remediation: fmt.Sprintf("Create %s in the working directory or next to the binary, or pass --config", DefaultFile),
	}
}

// LoadCredentials reads, expands and validates the credential file.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	creds, err := ParseCredentials(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return creds, nil
}

// ParseCredentials decodes a credential document. ${VAR} references are
// expanded from the environment so secrets can stay out of the file.
// Unknown vendor sections and fields are rejected.
func ParseCredentials(data []byte) (Credentials, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandVars(string(data)))))
	dec.KnownFields(true)

	var creds Credentials
	if err := dec.Decode(&creds); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &validation.Error{
				Field:       KeyConfig,
				Message:     "config file is empty",
				Remediation: "Add at least one client with an MDATP or TMV1 section",
			}
		}
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// Validate checks every client section once, at load time.
func (c Credentials) Validate() error {
	var errs validation.Errors
	for _, name := range c.Clients() {
		client := c[name]
		if client.MDATP == nil && client.TMV1 == nil {
			errs.Add(&validation.Error{
				Field:       name,
				Message:     "client has no vendor section",
				Remediation: "Add an MDATP or TMV1 section under the client",
			})
		}
		if m := client.MDATP; m != nil {
			prefix := name + ".MDATP."
			errs.Add(validation.Required(prefix+"TENANTID", m.TenantID))
			errs.Add(validation.Required(prefix+"APPID", m.AppID))
			errs.Add(validation.Required(prefix+"APPSECRET", m.AppSecret))
			errs.Add(validation.URL(prefix+"BASEURL", m.BaseURL))
			errs.Add(validation.URL(prefix+"LOGINURL", m.LoginURL))
		}
		if t := client.TMV1; t != nil {
			prefix := name + ".TMV1."
			errs.Add(validation.Required(prefix+"BASEURL", t.BaseURL))
			errs.Add(validation.URL(prefix+"BASEURL", t.BaseURL))
			errs.Add(validation.Required(prefix+"TOKEN", t.Token))
		}
	}
	return errs.Err()
}

// Clients returns the configured client names, sorted.
func (c Credentials) Clients() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the credential for client and vendor. The vendor name is
// matched case-insensitively.
func (c Credentials) Lookup(client, vendor string) (edr.Credential, error) {
	entry, ok := c[client]
	if !ok {
		return edr.Credential{}, &validation.Error{
			Field:       "client",
			Value:       client,
			Message:     fmt.Sprintf("unknown client: %q", client),
			Remediation: fmt.Sprintf("Configured clients: %s", strings.Join(c.Clients(), ", ")),
		}
	}

	switch strings.ToUpper(vendor) {
	case "MDATP":
		if m := entry.MDATP; m != nil {
			return edr.Credential{
				TenantID:  m.TenantID,
				AppID:     m.AppID,
				AppSecret: m.AppSecret,
				BaseURL:   m.BaseURL,
				LoginURL:  m.LoginURL,
			}, nil
		}
	case "TMV1":
		if t := entry.TMV1; t != nil {
			return edr.Credential{Token: t.Token, BaseURL: t.BaseURL}, nil
		}
	}
	return edr.Credential{}, &validation.Error{
		Field:       "vendor",
		Value:       vendor,
		Message:     fmt.Sprintf("client %q has no %s credentials", client, strings.ToUpper(vendor)),
		Remediation: "Add the vendor section to the client in the config file",
	}
}

// expandVars performs simple variable expansion for ${VAR} syntax. Unset
// variables expand to the empty string, which validation then reports.
func expandVars(value string) string {
	result := value
	offset := 0

	for {
		start := strings.Index(result[offset:], "${")
		if start == -1 {
			break
		}
		start += offset

		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varValue := os.Getenv(result[start+2 : end])
		result = result[:start] + varValue + result[end+1:]
		// Skip past the substitution so values containing "${" are not re-expanded.
		offset = start + len(varValue)
	}

	return result
}

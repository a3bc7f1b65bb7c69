package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfittko/vlad/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCredentials = `acme:
  MDATP:
    TENANTID: tenant-1
    APPID: app-1
    APPSECRET: ${VLAD_TEST_SECRET}
  TMV1:
    BASEURL: https://api.eu.xdr.trendmicro.com
    TOKEN: tok
globex:
  MDATP:
    TENANTID: tenant-2
    APPID: app-2
    APPSECRET: s2
    BASEURL: https://api-us.securitycenter.microsoft.com
`

// chdir switches the working directory for the rest of the test and
// points HOME at it so a real ~/.vlad.yaml is never read
func chdir(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("HOME", dir)
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestLoadSettingsDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "tmp", s.TmpDir)
	assert.Equal(t, "downloads", s.DownloadsDir)
	assert.Equal(t, 10*time.Minute, s.Timeout)
	assert.Equal(t, 60*time.Second, s.HTTPTimeout)
	assert.Equal(t, "text", s.Output)
	assert.Equal(t, "warn", s.LogLevel)
	assert.False(t, s.InsecureSkipVerify)
	assert.Empty(t, s.ConfigPath)
}

func TestLoadSettingsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("VLAD_TIMEOUT", "90s")
	t.Setenv("VLAD_OUTPUT", "JSON")
	t.Setenv("VLAD_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("VLAD_DOWNLOADS_DIR", "/srv/loot")
	t.Setenv("VLAD_CONFIG", "/etc/vlad.yaml")

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, s.Timeout)
	assert.Equal(t, "json", s.Output)
	assert.True(t, s.InsecureSkipVerify)
	assert.Equal(t, "/srv/loot", s.DownloadsDir)
	assert.Equal(t, "/etc/vlad.yaml", s.ConfigPath)
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vlad.yaml"), []byte("tmp-dir: scratch\nlog-level: debug\n"), 0o644))
	t.Setenv("VLAD_LOG_LEVEL", "error")

	s, err := LoadSettings(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "scratch", s.TmpDir)
	assert.Equal(t, "error", s.LogLevel, "env overrides the settings file")
}

func TestLoadSettingsInvalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("VLAD_OUTPUT", "xml")
	t.Setenv("VLAD_LOG_LEVEL", "trace")
	t.Setenv("VLAD_TIMEOUT", "0s")

	_, err := LoadSettings(NewViper())
	require.Error(t, err)
	var errs validation.Errors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "output")
	assert.Contains(t, err.Error(), "log-level")
	assert.Contains(t, err.Error(), "timeout")
}

func TestParseCredentials(t *testing.T) {
	t.Setenv("VLAD_TEST_SECRET", "from-env")

	creds, err := ParseCredentials([]byte(sampleCredentials))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, creds.Clients())

	md, err := creds.Lookup("acme", "mdatp")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", md.TenantID)
	assert.Equal(t, "app-1", md.AppID)
	assert.Equal(t, "from-env", md.AppSecret)
	assert.Empty(t, md.BaseURL)

	tm, err := creds.Lookup("acme", "TMV1")
	require.NoError(t, err)
	assert.Equal(t, "tok", tm.Token)
	assert.Equal(t, "https://api.eu.xdr.trendmicro.com", tm.BaseURL)

	us, err := creds.Lookup("globex", "MDATP")
	require.NoError(t, err)
	assert.Equal(t, "https://api-us.securitycenter.microsoft.com", us.BaseURL)
}

func TestLookupErrors(t *testing.T) {
	t.Setenv("VLAD_TEST_SECRET", "x")
	creds, err := ParseCredentials([]byte(sampleCredentials))
	require.NoError(t, err)

	_, err = creds.Lookup("initech", "MDATP")
	var valErr *validation.Error
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "client", valErr.Field)
	assert.Contains(t, valErr.Remediation, "acme, globex")

	_, err = creds.Lookup("globex", "TMV1")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "vendor", valErr.Field)
	assert.Contains(t, valErr.Message, `"globex" has no TMV1`)
}

func TestParseCredentialsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "empty document",
			doc:     "",
			wantErr: "config file is empty",
		},
		{
			name: "missing secret",
			doc: `acme:
  MDATP:
    TENANTID: t
    APPID: a
`,
			wantErr: "acme.MDATP.APPSECRET",
		},
		{
			name: "unset variable expands to empty",
			doc: `acme:
  TMV1:
    BASEURL: https://api.xdr.trendmicro.com
    TOKEN: ${VLAD_TEST_UNSET_TOKEN}
`,
			wantErr: "acme.TMV1.TOKEN",
		},
		{
			name: "bad base url",
			doc: `acme:
  TMV1:
    BASEURL: api.xdr.trendmicro.com
    TOKEN: tok
`,
			wantErr: "invalid URL",
		},
		{
			name: "unknown vendor section",
			doc: `acme:
  CROWDSTRIKE:
    TOKEN: tok
`,
			wantErr: "CROWDSTRIKE",
		},
		{
			name:    "client without vendors",
			doc:     "acme: {}\n",
			wantErr: "client has no vendor section",
		},
		{
			name:    "not a mapping",
			doc:     "- acme\n",
			wantErr: "invalid config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredentials([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("VLAD_TEST_SECRET", "x")
	path := filepath.Join(t.TempDir(), "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCredentials), 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	_, err = LoadCredentials(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := ResolvePath("")
	var valErr *validation.Error
	require.ErrorAs(t, err, &valErr, "no vlad.yaml anywhere")

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(sampleCredentials), 0o600))
	got, err := ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFile, got)

	explicit := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte(sampleCredentials), 0o600))
	got, err = ResolvePath(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = ResolvePath(filepath.Join(dir, "missing.yaml"))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, KeyConfig, valErr.Field)
}

func TestExpandVars(t *testing.T) {
	t.Setenv("VLAD_A", "alpha")
	t.Setenv("VLAD_LOOP", "${VLAD_A}")

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"${VLAD_A}", "alpha"},
		{"x-${VLAD_A}-${VLAD_A}", "x-alpha-alpha"},
		{"${VLAD_UNSET_VAR}", ""},
		{"${VLAD_LOOP}", "${VLAD_A}"},
		{"${unterminated", "${unterminated"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.in); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

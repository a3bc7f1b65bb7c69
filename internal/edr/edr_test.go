package edr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineFilter_Match(t *testing.T) {
	active := Machine{Name: "web-01.corp", HealthStatus: "Active", OnboardingStatus: "Onboarded"}
	inactive := Machine{Name: "web-02.corp", HealthStatus: "Inactive", OnboardingStatus: "Onboarded"}
	notOnboarded := Machine{Name: "web-03.corp", HealthStatus: "Active", OnboardingStatus: "InsufficientInfo"}

	tests := []struct {
		name    string
		filter  MachineFilter
		machine Machine
		want    bool
	}{
		{"active without filter", MachineFilter{}, active, true},
		{"inactive without filter", MachineFilter{}, inactive, false},
		{"not onboarded", MachineFilter{}, notOnboarded, false},
		{"substring match", MachineFilter{NameContains: "web-01"}, active, true},
		{"substring miss", MachineFilter{NameContains: "db"}, active, false},
		{"case sensitive", MachineFilter{NameContains: "WEB"}, active, false},
		{"inactive never matches", MachineFilter{NameContains: "web"}, inactive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.machine))
		})
	}
}

func TestMachine_ScriptExtension(t *testing.T) {
	tests := []struct {
		platform string
		want     string
	}{
		{"Windows10", ".ps1"},
		{"WindowsServer2019", ".ps1"},
		{"windows", ".ps1"},
		{"Linux", ".sh"},
		{"macOS", ".sh"},
		{"", ".sh"},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			assert.Equal(t, tt.want, Machine{Platform: tt.platform}.ScriptExtension())
		})
	}
}

func TestKindForName(t *testing.T) {
	assert.Equal(t, KindScript, KindForName("vlad-1234.ps1"))
	assert.Equal(t, KindScript, KindForName("run.SH"))
	assert.Equal(t, KindBinary, KindForName("procdump.exe"))
	assert.Equal(t, ScriptDescription, DescriptionFor(KindScript))
	assert.Equal(t, BinaryDescription, DescriptionFor(KindBinary))
}

func TestLibraryFile_Owned(t *testing.T) {
	assert.True(t, LibraryFile{Description: ScriptDescription}.Owned())
	assert.False(t, LibraryFile{Description: "SOC triage script"}.Owned())
	assert.Equal(t, "abc", LibraryFile{ID: "abc", Name: "x.sh"}.Ref())
	assert.Equal(t, "x.sh", LibraryFile{Name: "x.sh"}.Ref())
}

func TestStatus(t *testing.T) {
	m := StatusMap{"Pending": StatusQueued, "Succeeded": StatusSucceeded}
	assert.Equal(t, StatusQueued, m.Parse("Pending"))
	assert.Equal(t, StatusUnknown, m.Parse("Exploded"))
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.Equal(t, "Canceled", StatusCanceled.String())
}

func TestErrorClassification(t *testing.T) {
	err := fmt.Errorf("listing: %w", &Error{Kind: KindPermission, Vendor: "TMV1", Op: "list library", StatusCode: 403})

	assert.True(t, errors.Is(err, ErrPermission))
	assert.False(t, errors.Is(err, ErrRejected))
	assert.Equal(t, KindPermission, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(NewError(KindTransport, "MDATP", "get action", errors.New("eof"))))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))

	assert.Equal(t, "TMV1 list library: permission denied (HTTP 403)", errors.Unwrap(err).Error())
	assert.Equal(t, "MDATP put file: unsupported for this vendor", Unsupported("MDATP", "put file").Error())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	var got Deps
	reg.Register("tmv1", func(d Deps) Vendor {
		got = d
		return nil
	})
	reg.Register("MDATP", func(Deps) Vendor { return nil })

	assert.Equal(t, []string{"MDATP", "TMV1"}, reg.Names())

	_, err := reg.New("Tmv1", Deps{UserAgent: "vlad/test"})
	require.NoError(t, err)
	assert.Equal(t, "vlad/test", got.UserAgent)
	assert.NotNil(t, got.Logger, "a nil logger is replaced")

	_, err = reg.New("crowdstrike", Deps{})
	assert.ErrorContains(t, err, "MDATP, TMV1")
}

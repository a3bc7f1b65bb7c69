package edr

import (
	"strings"
	"time"
)

// OwnershipTag marks library files created by this tool. Bulk cleanup only
// touches files whose description contains it.
const OwnershipTag = "Vlad"

const (
	ScriptDescription = OwnershipTag + " Remote Execution Script"
	BinaryDescription = OwnershipTag + " Uploaded Binary"
	ActionComment     = OwnershipTag + " Live Response Automations"
)

// StaleAfter is how long a machine may go without checking in before it is
// considered inactive by vendors that do not report health themselves.
const StaleAfter = 30 * 24 * time.Hour

// Session is a bearer token bound to a vendor base URL for one invocation.
type Session struct {
	Token   string
	BaseURL string
}

// Machine is a managed endpoint as reported by a vendor.
type Machine struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Platform         string    `json:"platform"`
	IP               string    `json:"ip"`
	LastSeen         time.Time `json:"lastSeen,omitempty"`
	LastSeenRaw      string    `json:"-"`
	HealthStatus     string    `json:"healthStatus"`
	OnboardingStatus string    `json:"onboardingStatus"`
}

// Active reports whether the machine should be surfaced by listings.
func (m Machine) Active() bool {
	return m.HealthStatus == "Active" && m.OnboardingStatus == "Onboarded"
}

// IsWindows reports whether the platform string names a Windows host.
func (m Machine) IsWindows() bool {
	return strings.Contains(strings.ToLower(m.Platform), "windows")
}

// ScriptExtension picks the script extension understood by the machine's shell.
func (m Machine) ScriptExtension() string {
	if m.IsWindows() {
		return ".ps1"
	}
	return ".sh"
}

// MachineFilter narrows a machine listing. An empty NameContains matches all.
type MachineFilter struct {
	NameContains string
}

// Match applies the active predicate and the case-sensitive name filter.
func (f MachineFilter) Match(m Machine) bool {
	if !m.Active() {
		return false
	}
	return f.NameContains == "" || strings.Contains(m.Name, f.NameContains)
}

// FileKind distinguishes scripts from binaries in a vendor library.
type FileKind string

const (
	KindScript FileKind = "script"
	KindBinary FileKind = "binary"
)

// KindForName infers the file kind from its extension.
func KindForName(name string) FileKind {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".ps1") || strings.HasSuffix(lower, ".sh") {
		return KindScript
	}
	return KindBinary
}

// DescriptionFor returns the ownership-tagged description for a file kind.
func DescriptionFor(kind FileKind) string {
	if kind == KindScript {
		return ScriptDescription
	}
	return BinaryDescription
}

// LibraryFile is an artifact stored in a vendor-hosted library.
type LibraryFile struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"fileName"`
	Description string   `json:"description"`
	Kind        FileKind `json:"kind,omitempty"`
	FileType    string   `json:"fileType,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	CreatedBy   string   `json:"createdBy,omitempty"`
}

// Owned reports whether the file was created by this tool.
func (f LibraryFile) Owned() bool {
	return strings.Contains(f.Description, OwnershipTag)
}

// Ref returns the identifier vendors use to address the file.
func (f LibraryFile) Ref() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Name
}

// ActionType is the kind of remote action submitted against a machine.
type ActionType string

const (
	ActionPutFile     ActionType = "PutFile"
	ActionRunScript   ActionType = "RunScript"
	ActionCollectFile ActionType = "GetFile"
)

// RemoteAction is one asynchronous unit of work on one machine.
type RemoteAction struct {
	ID        string
	MachineID string
	Type      ActionType
	Status    Status
	RawStatus string
	// CommandIndex addresses the command inside a multi-command action.
	CommandIndex int
	// CommandStatus is the per-command status some vendors report alongside
	// the action status.
	CommandStatus string
	// ResultLocation and ResultPassword are set by vendors that publish the
	// result archive on the action record itself.
	ResultLocation string
	ResultPassword string
	// Target is the remote path for collect actions or the file name for
	// put/run actions.
	Target string
}

// ExecutionResult is the decoded output of a completed action.
type ExecutionResult struct {
	ActionID   string `json:"actionId"`
	ScriptName string `json:"scriptName,omitempty"`
	ExitCode   int    `json:"exitCode"`
	Output     string `json:"output,omitempty"`
	Errors     string `json:"errors,omitempty"`
	// Path is the local file or directory holding collected content.
	Path string `json:"path,omitempty"`
}

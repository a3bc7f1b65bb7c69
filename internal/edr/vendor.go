package edr

import (
	"context"
	"iter"

	"github.com/mfittko/vlad/internal/poll"
)

// Credential is the per-client secret bundle for one vendor.
type Credential struct {
	TenantID  string
	AppID     string
	AppSecret string
	Token     string
	BaseURL   string
	LoginURL  string
}

// Capability is an optional verb a vendor may not offer. Workflows check it
// before doing any work so an unsupported request fails without side effects.
type Capability int

const (
	// CapStageBinary is PutFile: uploading an arbitrary binary and staging
	// it onto a machine.
	CapStageBinary Capability = iota
	// CapCancelPending is CancelPending.
	CapCancelPending
)

func (c Capability) String() string {
	switch c {
	case CapStageBinary:
		return "binary staging"
	case CapCancelPending:
		return "pending action cancellation"
	}
	return "unknown capability"
}

// ResultFetcher turns a succeeded action into usable output.
type ResultFetcher interface {
	// FetchScriptResult downloads and decodes the output of a RunScript
	// action. Scratch files go under workDir.
	FetchScriptResult(ctx context.Context, s *Session, action RemoteAction, workDir string) (*ExecutionResult, error)
	// FetchCollectedFile downloads a GetFile result and extracts it under
	// destDir, returning the local path in ExecutionResult.Path.
	FetchCollectedFile(ctx context.Context, s *Session, action RemoteAction, destDir string) (*ExecutionResult, error)
}

// Vendor is the live-response capability set every backend implements.
// Verbs a backend cannot perform return an ErrUnsupported error.
type Vendor interface {
	Name() string
	Supports(c Capability) bool

	Authenticate(ctx context.Context, cred Credential) (*Session, error)

	// ListMachines yields active machines page by page, fetching the next
	// page only when the consumer asks for it.
	ListMachines(ctx context.Context, s *Session, filter MachineFilter) iter.Seq2[Machine, error]
	GetMachine(ctx context.Context, s *Session, machineID string) (*Machine, error)

	UploadFile(ctx context.Context, s *Session, localPath string) (*LibraryFile, error)
	// DeleteFile reports false instead of failing so callers can retry.
	DeleteFile(ctx context.Context, s *Session, file LibraryFile) bool
	ListFiles(ctx context.Context, s *Session) ([]LibraryFile, error)

	PutFile(ctx context.Context, s *Session, machineID string, file LibraryFile) (*RemoteAction, error)
	RunScript(ctx context.Context, s *Session, machineID string, file LibraryFile) (*RemoteAction, error)
	CollectFile(ctx context.Context, s *Session, machineID, remotePath string) (*RemoteAction, error)
	// CancelPending cancels every pending action on the machine.
	CancelPending(ctx context.Context, s *Session, machineID string) error

	// GetAction refreshes the action's status from the vendor.
	GetAction(ctx context.Context, s *Session, action RemoteAction) (*RemoteAction, error)
	// PollPolicy is the vendor's polling cadence and wall-clock budget.
	PollPolicy() poll.Policy

	ResultFetcher
}

// Package edrtest provides an in-memory edr.Vendor for workflow and CLI
// tests.
package edrtest

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/poll"
)

// Call records one vendor invocation.
type Call struct {
	Verb string
	Arg  string
}

// Vendor is a scriptable edr.Vendor. Zero value is usable; configure the
// exported fields before handing it to the code under test.
type Vendor struct {
	mu sync.Mutex

	VendorName   string
	Capabilities map[edr.Capability]bool
	Policy       poll.Policy

	AuthErr  error
	Machines []edr.Machine
	Library  []edr.LibraryFile

	UploadErr map[string]error
	// DeleteFails makes DeleteFile fail for the named file this many times.
	DeleteFails map[string]int

	// PutFileErr and friends fail the corresponding submission.
	PutFileErr   error
	RunScriptErr error
	CollectErr   error
	CancelErr    error

	// Statuses is the sequence GetAction walks through per action type.
	// Once exhausted the last status repeats.
	Statuses map[edr.ActionType][]edr.Status
	GetErrs  []error

	ScriptResult  *edr.ExecutionResult
	ScriptErr     error
	CollectResult *edr.ExecutionResult
	FetchErr      error
	// CollectContent is written to destDir when no CollectResult is set.
	CollectContent string

	Calls    []Call
	Uploaded map[string]string
	polls    map[string]int
	nextID   int
}

var _ edr.Vendor = (*Vendor)(nil)

func (v *Vendor) record(verb, arg string) {
	v.Calls = append(v.Calls, Call{Verb: verb, Arg: arg})
}

// Verbs returns the verbs called so far, in order.
func (v *Vendor) Verbs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.Calls))
	for _, c := range v.Calls {
		out = append(out, c.Verb)
	}
	return out
}

// Called reports whether verb was invoked.
func (v *Vendor) Called(verb string) bool {
	for _, got := range v.Verbs() {
		if got == verb {
			return true
		}
	}
	return false
}

// CallsTo returns the arguments of every call to verb.
func (v *Vendor) CallsTo(verb string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, c := range v.Calls {
		if c.Verb == verb {
			out = append(out, c.Arg)
		}
	}
	return out
}

func (v *Vendor) Name() string {
	if v.VendorName == "" {
		return "FAKE"
	}
	return v.VendorName
}

func (v *Vendor) Supports(c edr.Capability) bool {
	if v.Capabilities == nil {
		return true
	}
	ok, set := v.Capabilities[c]
	return !set || ok
}

func (v *Vendor) PollPolicy() poll.Policy {
	if v.Policy == (poll.Policy{}) {
		return poll.Policy{Interval: 5 * time.Second, RetryDelay: 5 * time.Second, Timeout: 600 * time.Second}
	}
	return v.Policy
}

func (v *Vendor) Authenticate(_ context.Context, cred edr.Credential) (*edr.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("Authenticate", cred.BaseURL)
	if v.AuthErr != nil {
		return nil, v.AuthErr
	}
	return &edr.Session{Token: "fake-token", BaseURL: cred.BaseURL}, nil
}

func (v *Vendor) ListMachines(_ context.Context, _ *edr.Session, filter edr.MachineFilter) iter.Seq2[edr.Machine, error] {
	return func(yield func(edr.Machine, error) bool) {
		v.mu.Lock()
		v.record("ListMachines", filter.NameContains)
		machines := append([]edr.Machine(nil), v.Machines...)
		v.mu.Unlock()
		for _, m := range machines {
			if !filter.Match(m) {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (v *Vendor) GetMachine(_ context.Context, _ *edr.Session, machineID string) (*edr.Machine, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("GetMachine", machineID)
	for _, m := range v.Machines {
		if m.ID == machineID {
			m := m
			return &m, nil
		}
	}
	return nil, &edr.Error{Kind: edr.KindNotFound, Vendor: v.Name(), Op: "get machine", StatusCode: 404, Body: machineID}
}

func (v *Vendor) UploadFile(_ context.Context, _ *edr.Session, localPath string) (*edr.LibraryFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	name := filepath.Base(localPath)
	v.record("UploadFile", name)
	if err := v.UploadErr[name]; err != nil {
		return nil, err
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	if v.Uploaded == nil {
		v.Uploaded = map[string]string{}
	}
	v.Uploaded[name] = string(content)

	kind := edr.KindForName(name)
	f := edr.LibraryFile{Name: name, Description: edr.DescriptionFor(kind), Kind: kind}
	v.Library = append(v.Library, f)
	return &f, nil
}

func (v *Vendor) DeleteFile(_ context.Context, _ *edr.Session, file edr.LibraryFile) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("DeleteFile", file.Name)
	if v.DeleteFails[file.Name] > 0 {
		v.DeleteFails[file.Name]--
		return false
	}
	for i, f := range v.Library {
		if f.Name == file.Name {
			v.Library = append(v.Library[:i], v.Library[i+1:]...)
			return true
		}
	}
	return false
}

func (v *Vendor) ListFiles(context.Context, *edr.Session) ([]edr.LibraryFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("ListFiles", "")
	return append([]edr.LibraryFile(nil), v.Library...), nil
}

func (v *Vendor) submit(verb string, typ edr.ActionType, machineID, target string, err error) (*edr.RemoteAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record(verb, target)
	if err != nil {
		return nil, err
	}
	v.nextID++
	return &edr.RemoteAction{
		ID:        fmt.Sprintf("action-%d", v.nextID),
		MachineID: machineID,
		Type:      typ,
		Status:    edr.StatusQueued,
		RawStatus: "Pending",
		Target:    target,
	}, nil
}

func (v *Vendor) PutFile(_ context.Context, _ *edr.Session, machineID string, file edr.LibraryFile) (*edr.RemoteAction, error) {
	if !v.Supports(edr.CapStageBinary) {
		return nil, edr.Unsupported(v.Name(), "put file")
	}
	return v.submit("PutFile", edr.ActionPutFile, machineID, file.Name, v.PutFileErr)
}

func (v *Vendor) RunScript(_ context.Context, _ *edr.Session, machineID string, file edr.LibraryFile) (*edr.RemoteAction, error) {
	return v.submit("RunScript", edr.ActionRunScript, machineID, file.Name, v.RunScriptErr)
}

func (v *Vendor) CollectFile(_ context.Context, _ *edr.Session, machineID, remotePath string) (*edr.RemoteAction, error) {
	return v.submit("CollectFile", edr.ActionCollectFile, machineID, remotePath, v.CollectErr)
}

func (v *Vendor) CancelPending(_ context.Context, _ *edr.Session, machineID string) error {
	if !v.Supports(edr.CapCancelPending) {
		return edr.Unsupported(v.Name(), "cancel pending actions")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("CancelPending", machineID)
	return v.CancelErr
}

func (v *Vendor) GetAction(_ context.Context, _ *edr.Session, action edr.RemoteAction) (*edr.RemoteAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("GetAction", action.ID)
	if len(v.GetErrs) > 0 {
		err := v.GetErrs[0]
		v.GetErrs = v.GetErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if v.polls == nil {
		v.polls = map[string]int{}
	}
	seq := v.Statuses[action.Type]
	if len(seq) == 0 {
		seq = []edr.Status{edr.StatusSucceeded}
	}
	i := v.polls[action.ID]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	v.polls[action.ID]++

	updated := action
	updated.Status = seq[i]
	updated.RawStatus = seq[i].String()
	return &updated, nil
}

func (v *Vendor) FetchScriptResult(_ context.Context, _ *edr.Session, action edr.RemoteAction, _ string) (*edr.ExecutionResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("FetchScriptResult", action.ID)
	if v.ScriptErr != nil {
		return nil, v.ScriptErr
	}
	res := edr.ExecutionResult{ActionID: action.ID, ScriptName: action.Target}
	if v.ScriptResult != nil {
		res = *v.ScriptResult
		res.ActionID = action.ID
	}
	return &res, nil
}

func (v *Vendor) FetchCollectedFile(_ context.Context, _ *edr.Session, action edr.RemoteAction, destDir string) (*edr.ExecutionResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("FetchCollectedFile", action.ID)
	if v.FetchErr != nil {
		return nil, v.FetchErr
	}
	if v.CollectResult != nil {
		return v.CollectResult, nil
	}
	path := filepath.Join(destDir, action.ID+"_"+filepath.Base(action.Target))
	if err := os.WriteFile(path, []byte(v.CollectContent), 0o644); err != nil {
		return nil, err
	}
	return &edr.ExecutionResult{ActionID: action.ID, Path: path}, nil
}

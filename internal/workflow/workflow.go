// Package workflow sequences vendor calls into the operations the CLI
// exposes and owns cleanup of every library file a run uploads.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/poll"
	"go.uber.org/zap"
)

const (
	// DefaultClearAttempts and DefaultClearBackoff bound the bulk library
	// cleanup retries.
	DefaultClearAttempts = 5
	DefaultClearBackoff  = 10 * time.Second

	cleanupTimeout = 2 * time.Minute
)

// Options configures a Runner.
type Options struct {
	Vendor  edr.Vendor
	Session *edr.Session
	Logger  *zap.Logger
	Clock   poll.Clock
	// Progress is called after every status fetch while an action is
	// awaited.
	Progress func(attempt int, state poll.State)

	TmpDir       string
	DownloadsDir string

	ClearAttempts int
	ClearBackoff  time.Duration
}

// Runner drives one workflow against one authenticated vendor session.
type Runner struct {
	vendor   edr.Vendor
	session  *edr.Session
	logger   *zap.Logger
	clock    poll.Clock
	progress func(int, poll.State)

	tmpDir       string
	downloadsDir string

	clearAttempts int
	clearBackoff  time.Duration
}

// New creates a Runner. Vendor and Session are required.
func New(opts Options) *Runner {
	r := &Runner{
		vendor:        opts.Vendor,
		session:       opts.Session,
		logger:        opts.Logger,
		clock:         opts.Clock,
		progress:      opts.Progress,
		tmpDir:        opts.TmpDir,
		downloadsDir:  opts.DownloadsDir,
		clearAttempts: opts.ClearAttempts,
		clearBackoff:  opts.ClearBackoff,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.clock == nil {
		r.clock = poll.RealClock{}
	}
	if r.tmpDir == "" {
		r.tmpDir = "tmp"
	}
	if r.downloadsDir == "" {
		r.downloadsDir = "downloads"
	}
	if r.clearAttempts <= 0 {
		r.clearAttempts = DefaultClearAttempts
	}
	if r.clearBackoff <= 0 {
		r.clearBackoff = DefaultClearBackoff
	}
	return r
}

// State is what one run has created so far. Cleanup is derived from it.
type State struct {
	// ScriptPath is the local script generated from the command payload.
	ScriptPath string
	// Uploaded lists library files in upload order.
	Uploaded []edr.LibraryFile
}

func (st *State) track(f *edr.LibraryFile) {
	if f != nil {
		st.Uploaded = append(st.Uploaded, *f)
	}
}

// CleanupError lists library files that could not be deleted.
type CleanupError struct {
	Files []string
}

func (e *CleanupError) Error() string {
	return "could not delete library files: " + strings.Join(e.Files, ", ")
}

// Cleanup deletes every file recorded in st, on a context detached from
// ctx's cancellation so an interrupted run still removes its uploads.
func (r *Runner) Cleanup(ctx context.Context, st *State) error {
	if len(st.Uploaded) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var failed []string
	for _, f := range st.Uploaded {
		if r.vendor.DeleteFile(ctx, r.session, f) {
			r.logger.Info("cleaned up library file", zap.String("file", f.Name))
			continue
		}
		failed = append(failed, f.Name)
	}
	if len(failed) > 0 {
		return &CleanupError{Files: failed}
	}
	return nil
}

// ExitError asks the CLI to exit with Code. A nil Err means the failure was
// already reported and nothing more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// OutcomeError reports an action that reached a terminal state other than
// success, or never reached one within the poll budget.
type OutcomeError struct {
	Action edr.RemoteAction
	State  poll.State
}

func (e *OutcomeError) Error() string {
	msg := fmt.Sprintf("%s action %s %s", e.Action.Type, e.Action.ID, e.State)
	if e.Action.RawStatus != "" {
		msg += fmt.Sprintf(" (last status %q)", e.Action.RawStatus)
	}
	return msg
}

// Is lets errors.Is(err, edr.ErrTimeout) match a timed out action.
func (e *OutcomeError) Is(target error) bool {
	return e.State == poll.TimedOut && errors.Is(edr.ErrTimeout, target)
}

// classify maps a vendor status onto the poll loop. Unmapped statuses are a
// protocol error so the loop never waits on a state it cannot recognize.
func classify(a *edr.RemoteAction) (poll.State, error) {
	switch a.Status {
	case edr.StatusQueued, edr.StatusRunning:
		return poll.Pending, nil
	case edr.StatusSucceeded:
		return poll.Succeeded, nil
	case edr.StatusFailed:
		return poll.Failed, nil
	case edr.StatusCanceled:
		return poll.Canceled, nil
	case edr.StatusRejected:
		return poll.Rejected, nil
	}
	return poll.Pending, &edr.Error{Kind: edr.KindProtocol, Op: "poll action " + a.ID,
		Body: fmt.Sprintf("unrecognized status %q", a.RawStatus)}
}

// await polls action until it succeeds. Any other outcome is an
// *OutcomeError carrying the last observed action.
func (r *Runner) await(ctx context.Context, action *edr.RemoteAction) (*edr.RemoteAction, error) {
	r.logger.Info("waiting for action",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)))

	fetch := func(ctx context.Context) (*edr.RemoteAction, error) {
		return r.vendor.GetAction(ctx, r.session, *action)
	}
	res, err := poll.Run(ctx, poll.Options{
		Policy:    r.vendor.PollPolicy(),
		Clock:     r.clock,
		Logger:    r.logger,
		Retryable: edr.IsRetryable,
		OnPoll:    r.progress,
	}, fetch, classify)
	if err != nil {
		return nil, err
	}

	last := action
	if res.Value != nil {
		last = res.Value
	}
	if res.State != poll.Succeeded {
		return last, &OutcomeError{Action: *last, State: res.State}
	}
	r.logger.Info("action succeeded", zap.String("action_id", last.ID), zap.Int("polls", res.Attempts))
	return last, nil
}

// gate fails fast when the vendor lacks a capability the request needs.
func (r *Runner) gate(c edr.Capability, op string) error {
	if r.vendor.Supports(c) {
		return nil
	}
	return &edr.Error{Kind: edr.KindUnsupported, Vendor: r.vendor.Name(), Op: op, Body: c.String() + " is not offered"}
}

// cancelPending clears actions that would block a new submission.
func (r *Runner) cancelPending(ctx context.Context, machineID string) error {
	r.logger.Info("canceling pending actions", zap.String("machine_id", machineID))
	if err := r.vendor.CancelPending(ctx, r.session, machineID); err != nil {
		return fmt.Errorf("cancel pending actions: %w", err)
	}
	return nil
}

package workflow

import (
	"context"
	"fmt"
	"iter"

	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// Machines lists active machines, optionally filtered by a name substring.
func (r *Runner) Machines(ctx context.Context, nameContains string) iter.Seq2[edr.Machine, error] {
	return r.vendor.ListMachines(ctx, r.session, edr.MachineFilter{NameContains: nameContains})
}

// Library returns every file in the vendor library.
func (r *Runner) Library(ctx context.Context) ([]edr.LibraryFile, error) {
	files, err := r.vendor.ListFiles(ctx, r.session)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	return files, nil
}

// ClearFile deletes one library file addressed by name or ID.
func (r *Runner) ClearFile(ctx context.Context, ref string) (*edr.LibraryFile, error) {
	files, err := r.Library(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Name != ref && f.ID != ref {
			continue
		}
		if !r.vendor.DeleteFile(ctx, r.session, f) {
			return nil, &CleanupError{Files: []string{f.Name}}
		}
		return &f, nil
	}
	return nil, &edr.Error{Kind: edr.KindNotFound, Vendor: r.vendor.Name(), Op: "clear file", Body: ref}
}

// ClearReport summarizes a bulk library cleanup.
type ClearReport struct {
	Deleted  []string `json:"deleted"`
	Failed   []string `json:"failed,omitempty"`
	Attempts int      `json:"attempts"`
}

// ClearAll deletes every library file this tool created, identified by the
// ownership tag in its description. Files that fail to delete are retried
// with a fixed backoff; anything still present after the last attempt is an
// error.
func (r *Runner) ClearAll(ctx context.Context) (*ClearReport, error) {
	rep := &ClearReport{}
	for attempt := 1; attempt <= r.clearAttempts; attempt++ {
		rep.Attempts = attempt
		files, err := r.Library(ctx)
		if err != nil {
			return rep, err
		}

		rep.Failed = nil
		for _, f := range files {
			if !f.Owned() {
				continue
			}
			if r.vendor.DeleteFile(ctx, r.session, f) {
				rep.Deleted = append(rep.Deleted, f.Name)
				continue
			}
			rep.Failed = append(rep.Failed, f.Name)
		}
		if len(rep.Failed) == 0 {
			return rep, nil
		}
		if attempt == r.clearAttempts {
			break
		}
		r.logger.Warn("some library files were not deleted, retrying",
			zap.Strings("files", rep.Failed),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", r.clearBackoff))
		if err := r.clock.Sleep(ctx, r.clearBackoff); err != nil {
			return rep, err
		}
	}
	return rep, &CleanupError{Files: rep.Failed}
}

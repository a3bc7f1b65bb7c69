package workflow

import (
	"context"
	"fmt"
	"os"

	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// CollectRequest describes one collect-file invocation.
type CollectRequest struct {
	MachineID  string
	RemotePath string
	Force      bool
}

// CollectFile asks the machine for RemotePath, waits for the upload and
// extracts it under the downloads directory. Nothing is uploaded, so there
// is nothing to clean up.
func (r *Runner) CollectFile(ctx context.Context, req CollectRequest) (*edr.ExecutionResult, error) {
	if req.Force {
		if err := r.gate(edr.CapCancelPending, "force action"); err != nil {
			return nil, err
		}
		if err := r.cancelPending(ctx, req.MachineID); err != nil {
			return nil, err
		}
	}

	action, err := r.vendor.CollectFile(ctx, r.session, req.MachineID, req.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("collect file: %w", err)
	}
	done, err := r.await(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("collect file: %w", err)
	}

	if err := os.MkdirAll(r.downloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads directory: %w", err)
	}
	res, err := r.vendor.FetchCollectedFile(ctx, r.session, *done, r.downloadsDir)
	if err != nil {
		return nil, fmt.Errorf("fetch collected file: %w", err)
	}
	r.logger.Info("file collected", zap.String("path", res.Path))
	return res, nil
}

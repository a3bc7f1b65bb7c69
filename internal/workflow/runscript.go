package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// RunScriptRequest describes one run-command invocation.
type RunScriptRequest struct {
	MachineID string
	// Command is the base64 encoded script body.
	Command string
	// Binary is an optional local file staged onto the machine before the
	// script runs.
	Binary string
	// Force cancels pending actions on the machine first.
	Force bool
}

// RunScriptReport is the outcome of a run-command workflow.
type RunScriptReport struct {
	Machine edr.Machine
	// Command is the decoded script body.
	Command string
	Result  *edr.ExecutionResult
	// CleanupErr is set when the run succeeded but an upload could not be
	// deleted afterwards.
	CleanupErr error
}

// DecodeCommand decodes a base64 command payload. Both padded and unpadded
// standard encodings are accepted.
func DecodeCommand(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		if b, rawErr = base64.RawStdEncoding.DecodeString(encoded); rawErr != nil {
			return "", fmt.Errorf("decode command: %w", err)
		}
	}
	return string(b), nil
}

// WriteScript writes the decoded script into dir under a random name with
// the given extension and returns its path.
func WriteScript(dir, script, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}
	name := "vlad-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}

// RunScript resolves the machine, uploads the script (and binary), stages the
// binary, runs the script and fetches its output. Every uploaded file is
// deleted before returning, whatever the outcome.
func (r *Runner) RunScript(ctx context.Context, req RunScriptRequest) (rep *RunScriptReport, err error) {
	if req.Binary != "" {
		if err := r.gate(edr.CapStageBinary, "upload binary"); err != nil {
			return nil, err
		}
	}
	if req.Force {
		if err := r.gate(edr.CapCancelPending, "force action"); err != nil {
			return nil, err
		}
	}
	script, err := DecodeCommand(req.Command)
	if err != nil {
		return nil, err
	}

	machine, err := r.vendor.GetMachine(ctx, r.session, req.MachineID)
	if err != nil {
		return nil, fmt.Errorf("resolve machine %s: %w", req.MachineID, err)
	}
	r.logger.Info("machine resolved",
		zap.String("machine_id", machine.ID),
		zap.String("name", machine.Name),
		zap.String("platform", machine.Platform))

	rep = &RunScriptReport{Machine: *machine, Command: script}
	st := &State{}
	defer func() {
		cleanupErr := r.Cleanup(ctx, st)
		if st.ScriptPath != "" {
			_ = os.Remove(st.ScriptPath)
		}
		if cleanupErr == nil {
			return
		}
		if err != nil {
			r.logger.Warn("cleanup after failed run incomplete", zap.Error(cleanupErr))
			err = errors.Join(err, cleanupErr)
			return
		}
		r.logger.Warn("cleanup incomplete", zap.Error(cleanupErr))
		rep.CleanupErr = cleanupErr
	}()

	if req.Force {
		if err := r.cancelPending(ctx, machine.ID); err != nil {
			return nil, err
		}
	}

	st.ScriptPath, err = WriteScript(r.tmpDir, script, machine.ScriptExtension())
	if err != nil {
		return nil, err
	}

	uploaded, err := r.vendor.UploadFile(ctx, r.session, st.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("upload script: %w", err)
	}
	st.track(uploaded)
	scriptFile := *uploaded

	if req.Binary != "" {
		bin, err := r.vendor.UploadFile(ctx, r.session, req.Binary)
		if err != nil {
			return nil, fmt.Errorf("upload binary: %w", err)
		}
		st.track(bin)

		put, err := r.vendor.PutFile(ctx, r.session, machine.ID, *bin)
		if err != nil {
			return nil, fmt.Errorf("stage binary: %w", err)
		}
		if _, err := r.await(ctx, put); err != nil {
			return nil, fmt.Errorf("stage binary: %w", err)
		}
	}

	run, err := r.vendor.RunScript(ctx, r.session, machine.ID, scriptFile)
	if err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}
	done, err := r.await(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	res, err := r.vendor.FetchScriptResult(ctx, r.session, *done, r.tmpDir)
	if err != nil {
		return nil, fmt.Errorf("fetch script result: %w", err)
	}
	rep.Result = res
	return rep, nil
}

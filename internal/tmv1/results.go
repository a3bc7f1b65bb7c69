package tmv1

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfittko/vlad/internal/archive"
	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// reportFile is the name of the script report inside a runScript archive.
const reportFile = "executed_result.txt"

// fetchArchive downloads the task's result archive and extracts it into
// dir/<taskID>. The archive itself is removed once extracted.
func (a *Adapter) fetchArchive(ctx context.Context, s *edr.Session, action edr.RemoteAction, dir, op string) (string, []string, error) {
	if action.ResultLocation == "" {
		return "", nil, &edr.Error{Kind: edr.KindNoResult, Vendor: Name, Op: op, Body: "task " + action.ID + " has no resource location"}
	}

	zipPath := filepath.Join(dir, action.ID+".zip")
	token := ""
	if strings.HasPrefix(action.ResultLocation, s.BaseURL) {
		token = s.Token
	}
	a.logger.Info("downloading result archive", zap.String("task_id", action.ID), zap.String("dest", zipPath))
	if _, err := a.http.Download(ctx, action.ResultLocation, token, zipPath, op); err != nil {
		return "", nil, err
	}
	defer os.Remove(zipPath)

	format, err := archive.Detect(zipPath)
	if err != nil {
		return "", nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: op, Err: err}
	}
	if format != archive.FormatZip {
		return "", nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: op, Body: "expected zip, got " + string(format)}
	}

	outDir := filepath.Join(dir, action.ID)
	files, err := archive.Unzip(zipPath, outDir, action.ResultPassword)
	if err != nil {
		return "", nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: op, Err: err}
	}
	return outDir, files, nil
}

// FetchScriptResult extracts the runScript archive under workDir and reads
// the script report out of it. The extracted directory is removed before
// returning; only the report text is kept.
func (a *Adapter) FetchScriptResult(ctx context.Context, s *edr.Session, action edr.RemoteAction, workDir string) (*edr.ExecutionResult, error) {
	const op = "fetch script result"
	outDir, files, err := a.fetchArchive(ctx, s, action, workDir, op)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)
	report, ok := archive.Find(files, reportFile)
	if !ok {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: op, Body: reportFile + " missing from result archive"}
	}
	content, err := os.ReadFile(report)
	if err != nil {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: op, Err: fmt.Errorf("read report: %w", err)}
	}
	return &edr.ExecutionResult{
		ActionID:   action.ID,
		ScriptName: action.Target,
		Output:     strings.TrimSpace(string(content)),
	}, nil
}

// FetchCollectedFile extracts the collectFile archive into destDir/<taskID>.
// A wrong password leaves no directory behind.
func (a *Adapter) FetchCollectedFile(ctx context.Context, s *edr.Session, action edr.RemoteAction, destDir string) (*edr.ExecutionResult, error) {
	outDir, _, err := a.fetchArchive(ctx, s, action, destDir, "fetch collected file")
	if err != nil {
		return nil, err
	}
	return &edr.ExecutionResult{ActionID: action.ID, Path: outDir}, nil
}

package mdatp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mfittko/vlad/internal/archive"
	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// scriptResult is the JSON document RunScript results download as.
type scriptResult struct {
	ScriptName   string `json:"script_name"`
	ExitCode     int    `json:"exit_code"`
	ScriptOutput string `json:"script_output"`
	ScriptErrors string `json:"script_errors"`
}

// downloadLink resolves the short-lived result URL of one command.
func (a *Adapter) downloadLink(ctx context.Context, s *edr.Session, action edr.RemoteAction) (string, error) {
	u := fmt.Sprintf("%s/api/machineactions/%s/GetLiveResponseResultDownloadLink(index=%d)",
		s.BaseURL, url.PathEscape(action.ID), action.CommandIndex)
	var link struct {
		Value string `json:"value"`
	}
	if err := a.get(ctx, s, u, "get result link", &link); err != nil {
		return "", err
	}
	if link.Value == "" {
		return "", &edr.Error{Kind: edr.KindNoResult, Vendor: Name, Op: "get result link", Body: "action " + action.ID}
	}
	return link.Value, nil
}

// FetchScriptResult downloads the small JSON report of a RunScript action.
func (a *Adapter) FetchScriptResult(ctx context.Context, s *edr.Session, action edr.RemoteAction, _ string) (*edr.ExecutionResult, error) {
	link, err := a.downloadLink(ctx, s, action)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(a.http.R(ctx, ""), http.MethodGet, link, "download script result")
	if err != nil {
		return nil, err
	}

	var out scriptResult
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: "decode script result", Err: err}
	}
	return &edr.ExecutionResult{
		ActionID:   action.ID,
		ScriptName: out.ScriptName,
		ExitCode:   out.ExitCode,
		Output:     out.ScriptOutput,
		Errors:     out.ScriptErrors,
	}, nil
}

// FetchCollectedFile downloads the gzip produced by a GetFile action and
// decompresses it next to the archive as <actionID>_<basename>.
func (a *Adapter) FetchCollectedFile(ctx context.Context, s *edr.Session, action edr.RemoteAction, destDir string) (*edr.ExecutionResult, error) {
	link, err := a.downloadLink(ctx, s, action)
	if err != nil {
		return nil, err
	}

	base := path.Base(strings.ReplaceAll(action.Target, `\`, "/"))
	if base == "." || base == "/" {
		base = "collected"
	}
	out := filepath.Join(destDir, action.ID+"_"+base)
	gz := out + ".gz"

	a.logger.Info("downloading collected file", zap.String("dest", gz))
	if _, err := a.http.Download(ctx, link, "", gz, "download collected file"); err != nil {
		return nil, err
	}
	defer os.Remove(gz)

	format, err := archive.Detect(gz)
	if err != nil {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: "inspect collected file", Err: err}
	}
	if format != archive.FormatGzip {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: "inspect collected file", Body: "expected gzip, got " + string(format)}
	}
	if err := archive.Gunzip(gz, out); err != nil {
		return nil, &edr.Error{Kind: edr.KindDecode, Vendor: Name, Op: "decompress collected file", Err: err}
	}
	return &edr.ExecutionResult{ActionID: action.ID, Path: out}, nil
}

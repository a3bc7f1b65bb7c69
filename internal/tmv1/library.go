package tmv1

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const customScripts = "/v3.0/response/customScripts"

// fileTypeFor maps a script name onto the library's fileType. Anything else
// cannot be stored in the custom scripts library.
func fileTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ps1":
		return "powershell"
	case ".sh":
		return "bash"
	}
	return ""
}

func scriptFile(item gjson.Result) edr.LibraryFile {
	name := item.Get("fileName").String()
	return edr.LibraryFile{
		ID:          item.Get("id").String(),
		Name:        name,
		Description: item.Get("description").String(),
		Kind:        edr.KindForName(name),
		FileType:    item.Get("fileType").String(),
	}
}

// UploadFile adds a PowerShell or Bash script to the custom scripts library.
// Binaries are rejected before any request is made.
func (a *Adapter) UploadFile(ctx context.Context, s *edr.Session, localPath string) (*edr.LibraryFile, error) {
	name := filepath.Base(localPath)
	fileType := fileTypeFor(name)
	if fileType == "" {
		return nil, &edr.Error{Kind: edr.KindUnsupported, Vendor: Name, Op: "upload file",
			Body: fmt.Sprintf("%s: only .ps1 and .sh scripts can be uploaded", name)}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	req := a.http.R(ctx, s.Token).
		SetMultipartFormData(map[string]string{
			"fileType":    fileType,
			"description": edr.ScriptDescription,
		}).
		SetMultipartField("file", name, "text/plain", f)
	resp, err := a.http.Do(req, http.MethodPost, s.BaseURL+customScripts, "upload file")
	if err != nil {
		return nil, err
	}

	file := &edr.LibraryFile{
		Name:        name,
		Description: edr.ScriptDescription,
		Kind:        edr.KindScript,
		FileType:    fileType,
	}
	if loc := resp.Header().Get("Location"); loc != "" {
		file.ID = path.Base(loc)
	} else if found, err := a.findScript(ctx, s, name); err == nil {
		file.ID = found.ID
	} else {
		a.logger.Warn("uploaded script id unknown, deletes will look it up by name", zap.String("file", name), zap.Error(err))
	}
	a.logger.Info("library file uploaded", zap.String("file", name), zap.String("id", file.ID))
	return file, nil
}

// findScript looks a script up by exact file name.
func (a *Adapter) findScript(ctx context.Context, s *edr.Session, name string) (*edr.LibraryFile, error) {
	req := a.http.R(ctx, s.Token).SetQueryParam("filter", fmt.Sprintf("fileName eq '%s'", name))
	resp, err := a.http.Do(req, http.MethodGet, s.BaseURL+customScripts, "find script")
	if err != nil {
		return nil, err
	}
	page, err := parse(resp.Body(), "find script")
	if err != nil {
		return nil, err
	}
	items := page.Get("items").Array()
	if len(items) == 0 {
		return nil, &edr.Error{Kind: edr.KindNotFound, Vendor: Name, Op: "find script", Body: name}
	}
	f := scriptFile(items[0])
	return &f, nil
}

// DeleteFile removes a script by ID, resolving the ID from the file name when
// it is unknown. Failures are logged and reported as false.
func (a *Adapter) DeleteFile(ctx context.Context, s *edr.Session, file edr.LibraryFile) bool {
	id := file.ID
	if id == "" {
		found, err := a.findScript(ctx, s, file.Name)
		if err != nil {
			a.logger.Warn("library file delete failed", zap.String("file", file.Name), zap.Error(err))
			return false
		}
		id = found.ID
	}

	u := s.BaseURL + customScripts + "/" + url.PathEscape(id)
	resp, err := a.http.Do(a.http.R(ctx, s.Token), http.MethodDelete, u, "delete file")
	if err == nil && resp.StatusCode() != http.StatusNoContent {
		err = &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: "delete file", StatusCode: resp.StatusCode(), Body: "expected 204 No Content"}
	}
	if err != nil {
		a.logger.Warn("library file delete failed", zap.String("file", file.Name), zap.String("id", id), zap.Error(err))
		return false
	}
	a.logger.Info("library file deleted", zap.String("file", file.Name), zap.String("id", id))
	return true
}

// ListFiles returns every custom script, following nextLink.
func (a *Adapter) ListFiles(ctx context.Context, s *edr.Session) ([]edr.LibraryFile, error) {
	var files []edr.LibraryFile
	next := s.BaseURL + customScripts
	for next != "" {
		page, err := a.getJSON(ctx, s, next, "list library", nil)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Get("items").Array() {
			files = append(files, scriptFile(item))
		}
		next = page.Get("nextLink").String()
	}
	return files, nil
}

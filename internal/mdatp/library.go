package mdatp

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

type libraryFileDTO struct {
	FileName    string `json:"fileName"`
	Description string `json:"description"`
	SHA256      string `json:"sha256"`
	CreatedBy   string `json:"createdBy"`
}

func (d libraryFileDTO) file() edr.LibraryFile {
	return edr.LibraryFile{
		Name:        d.FileName,
		Description: d.Description,
		Kind:        edr.KindForName(d.FileName),
		SHA256:      d.SHA256,
		CreatedBy:   d.CreatedBy,
	}
}

// UploadFile stores localPath in the live response library, replacing any
// file with the same name. Library files are addressed by file name.
func (a *Adapter) UploadFile(ctx context.Context, s *edr.Session, localPath string) (*edr.LibraryFile, error) {
	name := filepath.Base(localPath)
	kind := edr.KindForName(name)
	desc := edr.DescriptionFor(kind)

	req := a.http.R(ctx, s.Token).
		SetFile("file", localPath).
		SetFormData(map[string]string{
			"OverrideIfExists": "true",
			"Description":      desc,
		})
	resp, err := a.http.Do(req, http.MethodPost, s.BaseURL+"/api/libraryfiles", "upload file")
	if err != nil {
		return nil, err
	}

	f := edr.LibraryFile{Name: name, Description: desc, Kind: kind}
	var dto libraryFileDTO
	if decode(resp, "upload file", &dto) == nil && dto.FileName != "" {
		f.SHA256 = dto.SHA256
		f.CreatedBy = dto.CreatedBy
	}
	a.logger.Info("library file uploaded", zap.String("file", name), zap.String("kind", string(kind)))
	return &f, nil
}

// DeleteFile removes a library file by name. Failures, including deleting a
// file that is already gone, are logged and reported as false.
func (a *Adapter) DeleteFile(ctx context.Context, s *edr.Session, file edr.LibraryFile) bool {
	u := s.BaseURL + "/api/libraryfiles/" + url.PathEscape(file.Name)
	if _, err := a.http.Do(a.http.R(ctx, s.Token), http.MethodDelete, u, "delete file"); err != nil {
		a.logger.Warn("library file delete failed", zap.String("file", file.Name), zap.Error(err))
		return false
	}
	a.logger.Info("library file deleted", zap.String("file", file.Name))
	return true
}

// ListFiles returns the whole live response library.
func (a *Adapter) ListFiles(ctx context.Context, s *edr.Session) ([]edr.LibraryFile, error) {
	var page struct {
		Value []libraryFileDTO `json:"value"`
	}
	if err := a.get(ctx, s, s.BaseURL+"/api/libraryfiles", "list library", &page); err != nil {
		return nil, err
	}
	files := make([]edr.LibraryFile, 0, len(page.Value))
	for _, dto := range page.Value {
		files = append(files, dto.file())
	}
	return files, nil
}

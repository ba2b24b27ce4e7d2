package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"pdfpress/internal/imaging"
)

// Sink receives the final converted bytes together with the suggested
// filename and triggers a save action in the host environment.
type Sink interface {
	Save(ctx context.Context, data []byte, filename string) error
}

// Directory writes converted images into a local directory.
type Directory struct {
	dir string
}

// NewDirectory constructs a Directory sink rooted at dir.
func NewDirectory(dir string) *Directory {
	return &Directory{dir: dir}
}

// Save writes data to dir under the base of filename.
func (d *Directory) Save(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := filepath.Base(filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return errors.New("invalid output filename")
	}
	path := filepath.Join(d.dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// HTTPResponse delivers the converted image as an attachment download.
type HTTPResponse struct {
	w http.ResponseWriter
}

// NewHTTPResponse wraps a ResponseWriter as a Sink.
func NewHTTPResponse(w http.ResponseWriter) *HTTPResponse {
	return &HTTPResponse{w: w}
}

// Save writes the JPEG download response. Headers must not have been sent yet.
func (h *HTTPResponse) Save(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.w.Header().Set("Content-Type", imaging.MIMEType)
	h.w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(filename)))
	h.w.WriteHeader(http.StatusOK)
	if _, err := h.w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

package util

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

const sniffLen = 512

// PDFMediaType is the media type required at the upload boundary.
const PDFMediaType = "application/pdf"

// ReadUpload drains the uploaded file into memory and sniffs its media type
// from the leading bytes. The declared multipart content type is ignored;
// the sniffed value is authoritative.
func ReadUpload(src io.Reader) ([]byte, string, error) {
	if src == nil {
		return nil, "", errors.New("missing file")
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(src, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read file header: %w", err)
	}

	rest, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}

	data := append(header[:n], rest...)
	return data, http.DetectContentType(header[:n]), nil
}

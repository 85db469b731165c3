package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for PDF files
type Validator struct {
	maxSize int64
}

// NewValidator creates a validator rejecting files larger than maxSize bytes.
// A non-positive maxSize disables the size check.
func NewValidator(maxSize int64) *Validator {
	return &Validator{maxSize: maxSize}
}

// ValidatePDFPath checks that path is a readable regular file starting with
// the PDF header.
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	if v.maxSize > 0 && info.Size() > v.maxSize {
		return domain.ValidationError(fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), v.maxSize), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(file, header); err != nil {
		return domain.ValidationError("file is too short to be a PDF", err)
	}
	if !bytes.Equal(header, pdfMagic) {
		return domain.ValidationError("file does not start with a PDF header", nil)
	}

	return nil
}

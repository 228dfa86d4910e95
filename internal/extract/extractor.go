// Package extract provides text extraction from various document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format names recorded on documents.
const (
	FormatText = "text"
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatPPTX = "pptx"
	FormatXLSX = "xlsx"
	FormatHTML = "html"
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var extFormats = map[string]string{
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
	".rst":      FormatText,
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".pptx":     FormatPPTX,
	".xlsx":     FormatXLSX,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".csv":      FormatCSV,
	".json":     FormatJSON,
}

const mib = 1024 * 1024

// maxSizes bounds the raw size accepted per format.
var maxSizes = map[string]int64{
	FormatPDF:  500 * mib,
	FormatDOCX: 100 * mib,
	FormatXLSX: 100 * mib,
	FormatPPTX: 200 * mib,
	FormatText: 100 * mib,
	FormatHTML: 50 * mib,
	FormatCSV:  1024 * mib,
	FormatJSON: 100 * mib,
}

// ErrTooLarge is returned for content above its format's size limit.
var ErrTooLarge = errors.New("file too large")

// MaxSize returns the largest accepted size in bytes for format.
func MaxSize(format string) int64 {
	if n, ok := maxSizes[format]; ok {
		return n
	}
	return maxSizes[FormatText]
}

// CheckSize fails with ErrTooLarge when size exceeds the limit for format.
func CheckSize(format string, size int64) error {
	if max := MaxSize(format); size > max {
		return fmt.Errorf("%w: %d bytes (max: %d bytes)", ErrTooLarge, size, max)
	}
	return nil
}

// FormatOf returns the format for a path or extension. Unknown extensions are text.
func FormatOf(pathOrExt string) string {
	ext := strings.ToLower(filepath.Ext(pathOrExt))
	if ext == "" && strings.HasPrefix(pathOrExt, ".") {
		ext = strings.ToLower(pathOrExt)
	}
	if f, ok := extFormats[ext]; ok {
		return f
	}
	return FormatText
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := ReadFile(path, FormatOf(path))
	if err != nil {
		return "", err
	}
	return e.ExtractBytes(content, FormatOf(path))
}

// ReadFile reads path after checking its size against the limit for format.
func ReadFile(path, format string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := CheckSize(format, info.Size()); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// ExtractBytes extracts text from content in the given format. format may also be a
// file extension with its leading dot.
func (e *Extractor) ExtractBytes(content []byte, format string) (string, error) {
	if strings.HasPrefix(format, ".") {
		format = FormatOf(format)
	}
	switch format {
	case FormatPDF:
		return extractPDF(content)
	case FormatDOCX:
		return extractDOCX(content)
	case FormatPPTX:
		return extractPPTX(content)
	case FormatXLSX:
		return extractExcel(content)
	case FormatHTML:
		return extractHTML(content)
	case FormatCSV:
		return extractCSV(content)
	case FormatJSON:
		return extractJSON(content)
	default:
		return extractPlain(content)
	}
}

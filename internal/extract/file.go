package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// FileExtractor reads local files. PDF text is extracted via the pdf
// library; plain text and markdown are read directly.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) SourceType() string { return "file" }

func (e *FileExtractor) Extract(_ context.Context, in Input, _ Options) (Result, error) {
	path := in.Source
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	case ".txt", ".md", ".markdown", "":
		text, err = readTextFile(path)
	default:
		return Result{}, fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return Result{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("no extractable text in %s", path)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Result{
		Text:        text,
		Title:       title,
		PublishedAt: info.ModTime().UTC(),
	}, nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

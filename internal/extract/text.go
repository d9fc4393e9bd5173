package extract

import (
	"context"
	"fmt"
	"strings"
)

// TextExtractor handles literal text sources: the content arrives inline,
// so extraction is normalization only.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) SourceType() string { return "text" }

func (e *TextExtractor) Extract(_ context.Context, in Input, _ Options) (Result, error) {
	text := strings.TrimSpace(in.Content)
	if text == "" {
		return Result{}, fmt.Errorf("empty text content")
	}
	return Result{Text: text, Title: firstLine(text)}, nil
}

// firstLine derives a fallback title from the opening line, truncated to a
// sane length.
func firstLine(text string) string {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}

// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docproc

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	// ErrUnsupportedFormat indicates the file extension has no text extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrTooLarge indicates the file exceeds the configured size limit.
	ErrTooLarge = errors.New("document too large")

	// ErrNotText indicates the file content is not valid UTF-8 text.
	ErrNotText = errors.New("document is not text")
)

// Metadata keys returned by Process.
const (
	MetaFileName  = "file_name"
	MetaExtension = "extension"
	MetaSize      = "size"
	MetaTitle     = "title"
)

// Processor extracts text and metadata from a document file.
type Processor interface {
	Process(ctx context.Context, path string) (text string, meta map[string]string, err error)
}

type extractFunc func(data []byte) (text, title string, err error)

// FileProcessor is the default Processor.
type FileProcessor struct {
	maxBytes   int64
	extractors map[string]extractFunc
	logger     *slog.Logger
}

var _ Processor = (*FileProcessor)(nil)

// Option configures a FileProcessor.
type Option func(*FileProcessor) error

// WithLogger sets the logger. A nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *FileProcessor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMaxBytes limits the size of processed files. Zero disables the limit.
func WithMaxBytes(n int64) Option {
	return func(p *FileProcessor) error {
		if n < 0 {
			return errors.New("max bytes cannot be negative")
		}
		p.maxBytes = n
		return nil
	}
}

// NewFileProcessor creates a processor for the built-in formats.
func NewFileProcessor(opts ...Option) (*FileProcessor, error) {
	p := &FileProcessor{
		maxBytes: 50 * 1024 * 1024,
		logger:   slog.Default(),
	}
	p.extractors = map[string]extractFunc{
		".md":       extractMarkdown,
		".markdown": extractMarkdown,
		".html":     extractHTML,
		".htm":      extractHTML,
		".csv":      extractCSV,
	}
	for _, ext := range []string{".txt", ".text", ".log", ".json", ".yaml", ".yml", ".xml", ".rst",
		".go", ".py", ".java", ".js", ".ts", ".c", ".h", ".cpp", ".rs", ".sql", ".sh", ".toml", ".ini"} {
		p.extractors[ext] = extractPlain
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "document-processor")
	return p, nil
}

// Supports reports whether the file extension of path can be processed.
func (p *FileProcessor) Supports(path string) bool {
	_, ok := p.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Process reads path and returns its text and metadata.
func (p *FileProcessor) Process(ctx context.Context, path string) (string, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	extract, ok := p.extractors[ext]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if p.maxBytes > 0 && info.Size() > p.maxBytes {
		return "", nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotText, path)
	}

	text, title, err := extract(data)
	if err != nil {
		return "", nil, fmt.Errorf("extracting %s: %w", path, err)
	}
	text = normalizeWhitespace(text)

	name := filepath.Base(path)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	meta := map[string]string{
		MetaFileName:  name,
		MetaExtension: ext,
		MetaSize:      strconv.FormatInt(info.Size(), 10),
		MetaTitle:     title,
	}
	p.logger.Debug("document processed", "file", name, "chars", utf8.RuneCountInString(text))
	return text, meta, nil
}

func extractPlain(data []byte) (string, string, error) {
	return string(data), "", nil
}

var (
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+(.*)$`)
	mdFence     = regexp.MustCompile("(?m)^```.*$")
	mdImage     = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis  = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
	mdListMark  = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdQuoteMark = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdTableRule = regexp.MustCompile(`(?m)^\s*\|?[\s:|-]+\|[\s:|-]*$`)
)

func extractMarkdown(data []byte) (string, string, error) {
	text := string(data)
	var title string
	if m := mdHeading.FindStringSubmatch(text); m != nil {
		title = strings.TrimSpace(m[1])
	}
	text = mdFence.ReplaceAllString(text, "")
	text = mdHeading.ReplaceAllString(text, "$1")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdTableRule.ReplaceAllString(text, "")
	text = mdListMark.ReplaceAllString(text, "")
	text = mdQuoteMark.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", " ")
	return text, title, nil
}

func extractHTML(data []byte) (string, string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	var title string
	skip := 0
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", "", err
			}
			return b.String(), strings.TrimSpace(title), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				skip++
			case "title":
				inTitle = true
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				if skip > 0 {
					skip--
				}
			case "title":
				inTitle = false
			case "p", "div", "li", "tr", "td", "th", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if inTitle {
				title += text
				continue
			}
			b.WriteString(text)
			b.WriteByte(' ')
		}
	}
}

func extractCSV(data []byte) (string, string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var b strings.Builder
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", err
		}
		b.WriteString(strings.Join(record, ", "))
		b.WriteByte('\n')
	}
	return b.String(), "", nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v]+`)
	blankRun = regexp.MustCompile(`\n\s*\n+`)
)

// normalizeWhitespace collapses spaces within lines and blank-line runs.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

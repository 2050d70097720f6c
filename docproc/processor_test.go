package docproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newProcessor(t *testing.T, opts ...Option) *FileProcessor {
	t.Helper()
	p, err := NewFileProcessor(opts...)
	require.NoError(t, err)
	return p
}

func TestProcess_PlainText(t *testing.T) {
	p := newProcessor(t)
	path := write(t, "notes.txt", "\xef\xbb\xbfThe  widget\r\n\r\n\r\nis blue.  ")

	text, meta, err := p.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "The widget\n\nis blue.", text)
	assert.Equal(t, "notes.txt", meta[MetaFileName])
	assert.Equal(t, ".txt", meta[MetaExtension])
	assert.Equal(t, "notes", meta[MetaTitle])
	assert.NotEmpty(t, meta[MetaSize])
}

func TestProcess_Markdown(t *testing.T) {
	p := newProcessor(t)
	md := "# Widget Guide\n\nThe **widget** has a [manual](http://x/y).\n\n- first step\n- second step\n\n```go\nfmt.Println()\n```\n"
	text, meta, err := p.Process(context.Background(), write(t, "guide.md", md))
	require.NoError(t, err)
	assert.Equal(t, "Widget Guide", meta[MetaTitle])
	assert.Contains(t, text, "The widget has a manual.")
	assert.Contains(t, text, "first step")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "http://x/y")
	assert.NotContains(t, text, "```")
}

func TestProcess_HTML(t *testing.T) {
	p := newProcessor(t)
	page := `<html><head><title>Spec &amp; Notes</title><style>p{color:red}</style></head>
<body><h1>Widget</h1><p>Fish &amp; chips</p><script>alert(1)</script></body></html>`
	text, meta, err := p.Process(context.Background(), write(t, "page.html", page))
	require.NoError(t, err)
	assert.Equal(t, "Spec & Notes", meta[MetaTitle])
	assert.Contains(t, text, "Widget")
	assert.Contains(t, text, "Fish & chips")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color")
}

func TestProcess_CSV(t *testing.T) {
	p := newProcessor(t)
	text, _, err := p.Process(context.Background(), write(t, "parts.csv", "name,qty\nwidget,3\n\"bolt, m4\",10\n"))
	require.NoError(t, err)
	assert.Equal(t, "name, qty\nwidget, 3\nbolt, m4, 10", text)
}

func TestProcess_Errors(t *testing.T) {
	p := newProcessor(t, WithMaxBytes(8))

	_, _, err := p.Process(context.Background(), write(t, "image.png", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, p.Supports("image.png"))
	assert.True(t, p.Supports("README.MD"))

	_, _, err = p.Process(context.Background(), write(t, "big.txt", "0123456789"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = p.Process(context.Background(), write(t, "bin.txt", "\xff\xfe"))
	assert.ErrorIs(t, err, ErrNotText)

	_, _, err = p.Process(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, os.IsNotExist(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = p.Process(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewFileProcessor(WithMaxBytes(-1))
	assert.Error(t, err)
}

package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad_UTF8(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "guide.md", []byte("# Install Guide\n\nRun the installer.\n"))

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	doc, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, doc.Path)
	assert.Equal(t, "# Install Guide\n\nRun the installer.", doc.Content)
	assert.Equal(t, "guide.md", doc.Metadata[MetaFileName])
	assert.Equal(t, "Install Guide", doc.Metadata[MetaTitle])
	assert.Equal(t, "markdown", doc.Metadata[MetaDocType])
}

func TestLoad_GB18030Fallback(t *testing.T) {
	dir := t.TempDir()
	const text = "# 机器学习\n\n深度学习是机器学习的子集。\n"
	encoded, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	path := writeFile(t, dir, "ml.md", encoded)

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	doc, err := loader.Load(path)
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "深度学习是机器学习的子集。")
	assert.Equal(t, "机器学习", doc.Metadata[MetaTitle])
}

func TestLoad_StripsUTF8BOM(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bom.md", append([]byte{0xEF, 0xBB, 0xBF}, []byte("# Title\n")...))

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	doc, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title", doc.Content)
}

func TestLoad_RejectsNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("plain text"))

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	_, err = loader.Load(path)
	assert.Error(t, err)
}

func TestLoad_TitleFallsBackToFileStem(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "release-notes.md", []byte("no headings here\n"))

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	doc, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "release-notes", doc.Metadata[MetaTitle])
}

func TestLoad_StripInlineHTML(t *testing.T) {
	dir := t.TempDir()
	content := "# Doc\n\nSee <a href=\"https://example.com\">the site</a> for details.\n\n" +
		"Plain paragraph with a < b comparison stays.\n"
	path := writeFile(t, dir, "html.md", []byte(content))

	loader, err := NewLoader(Options{Dir: dir, StripHTML: true})
	require.NoError(t, err)

	doc, err := loader.Load(path)
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "See the site for details.")
	assert.NotContains(t, doc.Content, "<a href")
	assert.Contains(t, doc.Content, "a < b comparison stays")
}

func TestPreprocess(t *testing.T) {
	in := "line one   \n\n\n\nline two\t\n\r\nline three\n\n"
	got := Preprocess(in)
	assert.Equal(t, "line one\n\nline two\n\nline three", got)
}

func TestLoadAll_SortsSkipsAndCaps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.md", []byte("# B\ncontent b\n"))
	writeFile(t, dir, "a.md", []byte("# A\ncontent a\n"))
	writeFile(t, dir, "c.md", []byte("# C\ncontent c\n"))
	writeFile(t, dir, "ignored.txt", []byte("not markdown"))

	loader, err := NewLoader(Options{Dir: dir})
	require.NoError(t, err)

	docs, err := loader.LoadAll()
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "A", docs[0].Metadata[MetaTitle])
	assert.Equal(t, "B", docs[1].Metadata[MetaTitle])
	assert.Equal(t, "C", docs[2].Metadata[MetaTitle])

	capped, err := NewLoader(Options{Dir: dir, MaxDocuments: 2})
	require.NoError(t, err)
	docs, err = capped.LoadAll()
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestLoadAll_MissingDirIsAnError(t *testing.T) {
	loader, err := NewLoader(Options{Dir: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)

	_, err = loader.LoadAll()
	assert.Error(t, err)
}

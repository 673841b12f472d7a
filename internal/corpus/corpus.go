// Package corpus loads the markdown document corpus from disk: directory
// scanning, encoding fallback for legacy Chinese files, light text
// preprocessing, and per-document metadata extraction. Only the markdown
// family is supported; anything else is rejected at load time.
package corpus

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Metadata keys recorded on every document.
const (
	MetaFileName = "file_name"
	MetaTitle    = "title"
	MetaDocType  = "document_type"
)

// Document is one loaded, preprocessed markdown file ready for chunking.
type Document struct {
	// Path is the file path as given to Load, used as the chunk source
	// identifier downstream.
	Path string
	// Content is the preprocessed text.
	Content string
	// Metadata carries file_name, title, and document_type.
	Metadata map[string]string
}

// Options configures a Loader.
type Options struct {
	// Dir is the corpus root, walked non-recursively for *.md files.
	Dir string
	// MaxDocuments caps LoadAll; 0 means no cap.
	MaxDocuments int
	// StripHTML replaces inline HTML in documents with its text content.
	StripHTML bool
}

// Loader reads markdown documents. Stateless across calls and safe for
// concurrent use.
type Loader struct {
	opts Options
}

// NewLoader validates opts and returns a Loader.
func NewLoader(opts Options) (*Loader, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("corpus: documents directory is required")
	}
	if opts.MaxDocuments < 0 {
		return nil, fmt.Errorf("corpus: max documents must not be negative, got %d", opts.MaxDocuments)
	}
	return &Loader{opts: opts}, nil
}

// LoadAll loads every markdown file under the corpus directory in sorted
// path order, up to MaxDocuments. A file that fails to load is skipped
// with a warning rather than aborting the whole corpus; a missing corpus
// directory is an error.
func (l *Loader) LoadAll() ([]Document, error) {
	pattern := filepath.Join(l.opts.Dir, "*.md")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("corpus: scan %s: %w", l.opts.Dir, err)
	}
	if _, err := os.Stat(l.opts.Dir); err != nil {
		return nil, fmt.Errorf("corpus: documents directory: %w", err)
	}
	sort.Strings(paths)
	if l.opts.MaxDocuments > 0 && len(paths) > l.opts.MaxDocuments {
		log.Printf("[corpus] capping corpus at %d of %d documents", l.opts.MaxDocuments, len(paths))
		paths = paths[:l.opts.MaxDocuments]
	}

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc, err := l.Load(p)
		if err != nil {
			log.Printf("[corpus] skipping %s: %v", p, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Load reads one markdown file. Files are decoded as UTF-8 when valid and
// fall back to GB18030 (a superset of GBK/GB2312) otherwise, so legacy
// Chinese documents load without manual conversion.
func (l *Loader) Load(path string) (Document, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".md" && ext != ".markdown" {
		return Document{}, fmt.Errorf("corpus: unsupported file type %q, only markdown is ingested", ext)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("corpus: read %s: %w", path, err)
	}

	text, err := decode(raw)
	if err != nil {
		return Document{}, fmt.Errorf("corpus: decode %s: %w", path, err)
	}

	if l.opts.StripHTML && strings.Contains(text, "<") {
		text = stripInlineHTML(text)
	}
	text = Preprocess(text)

	return Document{
		Path:    path,
		Content: text,
		Metadata: map[string]string{
			MetaFileName: filepath.Base(path),
			MetaTitle:    titleOf(text, path),
			MetaDocType:  "markdown",
		},
	}, nil
}

// decode interprets raw as UTF-8 (with or without a BOM) when valid,
// otherwise as GB18030.
func decode(raw []byte) (string, error) {
	raw = stripBOM(raw)
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("neither UTF-8 nor GB18030: %w", err)
	}
	return string(decoded), nil
}

func stripBOM(raw []byte) []byte {
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		return raw[3:]
	}
	return raw
}

var (
	blankRunRe    = regexp.MustCompile(`\n[ \t]*\n([ \t]*\n)+`)
	trailingWSRe  = regexp.MustCompile(`[ \t]+\n`)
	htmlTagHintRe = regexp.MustCompile(`(?i)</?[a-z][^>]*>`)
)

// Preprocess normalizes document text: runs of three or more newlines
// collapse to a paragraph break, trailing whitespace is stripped from each
// line, and the surrounding whitespace is trimmed. Paragraph structure is
// otherwise preserved.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingWSRe.ReplaceAllString(text, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripInlineHTML replaces HTML tags embedded in markdown with their text
// content. Lines without tags pass through untouched so markdown syntax
// never goes through the HTML parser.
func stripInlineHTML(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !htmlTagHintRe.MatchString(line) {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(line))
		if err != nil {
			continue
		}
		lines[i] = doc.Text()
	}
	return strings.Join(lines, "\n")
}

var firstHeadingRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// titleOf extracts the first level-one heading, falling back to the file
// stem.
func titleOf(text, path string) string {
	if m := firstHeadingRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

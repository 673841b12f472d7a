// Package chunker splits raw document text into overlapping, size-bounded
// chunks for embedding and retrieval.
//
// Text is first divided into sentence units at terminal punctuation
// (U+3002 。, U+FF01 ！, U+FF1F ？, '.', '!', '?') and newlines. Units are
// accumulated greedily into chunks of at most ChunkSize runes, and each
// chunk after the first is seeded with the last ChunkOverlap runes of its
// predecessor so adjacent chunks share context. All offsets are rune
// indexes into the original document text.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrChunkSize reports a non-positive chunk size.
	ErrChunkSize = errors.New("chunker: chunk size must be positive")
	// ErrOverlap reports an overlap that is negative or larger than the
	// chunk size.
	ErrOverlap = errors.New("chunker: chunk overlap out of range")
)

// Chunk is a contiguous slice of one source document, the atomic unit of
// retrieval. StartPos and EndPos are rune offsets into the original text
// and satisfy 0 <= StartPos < EndPos <= len(document). Content is the
// whitespace-trimmed text of that extent; the raw extent itself is never
// truncated.
type Chunk struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	SourceFile string            `json:"source_file"`
	Index      int               `json:"chunk_index"`
	StartPos   int               `json:"start_pos"`
	EndPos     int               `json:"end_pos"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Options configures a Splitter. There are no ambient defaults; callers
// pass explicit values and invalid ones are rejected at construction.
type Options struct {
	// ChunkSize is the maximum chunk length in runes. A single unit longer
	// than ChunkSize is emitted alone rather than truncated.
	ChunkSize int
	// ChunkOverlap is the number of runes carried from the tail of one
	// chunk into the start of the next. Must satisfy
	// 0 <= ChunkOverlap <= ChunkSize.
	ChunkOverlap int
}

// Splitter divides documents into chunks. It is stateless across calls
// and safe for concurrent use.
type Splitter struct {
	size    int
	overlap int
}

// New validates opts and returns a Splitter.
func New(opts Options) (*Splitter, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrChunkSize, opts.ChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap > opts.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d with chunk size %d", ErrOverlap, opts.ChunkOverlap, opts.ChunkSize)
	}
	return &Splitter{size: opts.ChunkSize, overlap: opts.ChunkOverlap}, nil
}

// span is a half-open rune interval [start, end) within the document.
type span struct {
	start, end int
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

type heading struct {
	level int
	title string
}

// MetaHeading is the metadata key under which Split records the markdown
// heading breadcrumb (e.g. "Guide > Install") in effect where a chunk
// begins.
const MetaHeading = "heading"

// Split divides text into chunks in document order. source identifies the
// originating document and is recorded on every chunk; meta is copied into
// each chunk's metadata. Empty or whitespace-only text yields no chunks.
//
// A chunk may exceed ChunkSize only when a single unit cannot fit: an
// oversize unit is emitted as its own chunk, and a unit that overflows a
// freshly seeded chunk is kept with its seed rather than dropped.
func (s *Splitter) Split(text, source string, meta map[string]string) []Chunk {
	runes := []rune(text)
	units := splitUnits(runes)

	var (
		chunks   []Chunk
		crumbs   []heading
		open     bool   // an extent is accumulating
		bufStart int    // extent start, valid when open
		bufEnd   int    // extent end, valid when open
		bufText  bool   // extent holds at least one non-whitespace unit
		bufCrumb string // breadcrumb captured when the extent opened
		seed     = -1   // pending overlap seed start, -1 when none
	)

	emit := func(start, end int, crumb string) {
		content := strings.TrimSpace(string(runes[start:end]))
		if content == "" {
			return
		}
		c := Chunk{
			Content:    content,
			SourceFile: source,
			Index:      len(chunks),
			StartPos:   start,
			EndPos:     end,
			Metadata:   cloneMeta(meta),
		}
		if crumb != "" {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string, 1)
			}
			c.Metadata[MetaHeading] = crumb
		}
		c.ID = chunkID(source, c.Index, content)
		chunks = append(chunks, c)
	}

	// flush closes the open extent and arranges the overlap seed for the
	// next chunk.
	flush := func() {
		if !open {
			return
		}
		if bufText {
			emit(bufStart, bufEnd, bufCrumb)
			if s.overlap > 0 {
				seed = bufEnd - s.overlap
				if seed < bufStart {
					seed = bufStart
				}
			}
		}
		open = false
	}

	for _, u := range units {
		utext := strings.TrimSpace(string(runes[u.start:u.end]))
		if m := headingRe.FindStringSubmatch(utext); m != nil {
			crumbs = pushHeading(crumbs, heading{level: len(m[1]), title: strings.TrimSpace(m[2])})
		}

		ulen := u.end - u.start
		if ulen > s.size {
			// Oversize unit: close whatever is accumulating and emit the
			// unit alone, without an overlap seed.
			flush()
			emit(u.start, u.end, breadcrumb(crumbs))
			if s.overlap > 0 {
				seed = u.end - s.overlap
			}
			continue
		}

		if !open {
			if utext == "" && seed < 0 {
				continue
			}
			open = true
			if seed >= 0 {
				bufStart = seed
				seed = -1
			} else {
				bufStart = u.start
			}
			bufEnd = u.end
			bufText = utext != ""
			bufCrumb = breadcrumb(crumbs)
			continue
		}

		if u.end-bufStart > s.size && bufText {
			flush()
			// Start the next extent at the seed and take the unit
			// unconditionally so every chunk makes progress, even if the
			// seeded extent ends up past the budget.
			open = true
			if seed >= 0 {
				bufStart = seed
				seed = -1
			} else {
				bufStart = u.start
			}
			bufEnd = u.end
			bufText = utext != ""
			bufCrumb = breadcrumb(crumbs)
			continue
		}

		bufEnd = u.end
		if utext != "" {
			bufText = true
		}
	}
	flush()
	return chunks
}

// splitUnits tiles the document with sentence units. Every rune belongs to
// exactly one unit, so unit extents concatenate back to the full text.
func splitUnits(runes []rune) []span {
	var units []span
	start := 0
	for i, r := range runes {
		if isBoundary(r) {
			units = append(units, span{start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(runes) {
		units = append(units, span{start: start, end: len(runes)})
	}
	return units
}

func isBoundary(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '\n':
		return true
	}
	return false
}

// pushHeading maintains the breadcrumb stack: a heading replaces every
// entry at its own level or deeper.
func pushHeading(crumbs []heading, h heading) []heading {
	keep := crumbs[:0]
	for _, c := range crumbs {
		if c.level < h.level {
			keep = append(keep, c)
		}
	}
	return append(keep, h)
}

func breadcrumb(crumbs []heading) string {
	if len(crumbs) == 0 {
		return ""
	}
	titles := make([]string, len(crumbs))
	for i, c := range crumbs {
		titles[i] = c.title
	}
	return strings.Join(titles, " > ")
}

func cloneMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// chunkID derives a stable identifier from the chunk's provenance and a
// prefix of its content.
func chunkID(source string, index int, content string) string {
	prefix := []rune(content)
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d#%s", source, index, string(prefix))))
	return hex.EncodeToString(sum[:8])
}

// Package chunker splits course material into fragments small enough to
// embed and retrieve as units, preserving provenance: each fragment carries
// its heading context and byte offsets into the source document.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

const (
	// DefaultMaxChars is the maximum fragment length.
	DefaultMaxChars = 2000

	// DefaultOverlap is the character overlap between consecutive pieces
	// of a re-split oversized section.
	DefaultOverlap = 200

	// maxHeadingDepth is the deepest heading level that opens a new
	// fragment boundary.
	maxHeadingDepth = 3
)

// Fragment is one retrievable unit of a source document.
type Fragment struct {
	Index   int    // position within the document (0, 1, 2...)
	Heading string // heading hierarchy, e.g. "# Photosynthesis > ## Light Reactions"
	Text    string // fragment content, whitespace-trimmed
	Start   int    // byte offset of Text in the source
	End     int    // byte offset one past the end of Text
}

// Splitter cuts markdown (or plain text) documents at heading boundaries,
// re-splitting oversized sections with overlap.
type Splitter struct {
	parser   goldmark.Markdown
	maxChars int
	overlap  int
}

// NewSplitter creates a splitter. Non-positive maxChars or negative overlap
// select the defaults; maxChars is raised to fit at least one rune and
// overlap is clamped below maxChars.
func NewSplitter(maxChars, overlap int) *Splitter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxChars < utf8.UTFMax {
		maxChars = utf8.UTFMax
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxChars {
		overlap = maxChars / 4
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Splitter{parser: md, maxChars: maxChars, overlap: overlap}
}

// section is one heading-delimited region of the source, in document order.
type section struct {
	heading string
	start   int
	end     int
}

// Split cuts a document into fragments. A document without headings becomes
// a single section spanning the whole source before size splitting.
func (s *Splitter) Split(source []byte) ([]Fragment, error) {
	sections, err := s.sections(source)
	if err != nil {
		return nil, err
	}

	var fragments []Fragment
	for _, sec := range sections {
		text, start := trimSegment(source, sec.start, sec.end)
		if text == "" {
			continue
		}
		for _, piece := range s.splitOversized(text, start) {
			piece.Index = len(fragments)
			piece.Heading = sec.heading
			fragments = append(fragments, piece)
		}
	}
	return fragments, nil
}

// sections derives heading-delimited regions from the goldmark AST. Each
// section runs from its heading to the next tracked heading, so content is
// never duplicated between a parent section and its children.
func (s *Splitter) sections(source []byte) ([]section, error) {
	doc := s.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(maxHeadingDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect headings: %w", err)
	}

	if len(tree.Items) == 0 {
		return []section{{heading: "", start: 0, end: len(source)}}, nil
	}

	headings := headingsByID(doc)

	var secs []section
	flattenItems(tree.Items, nil, func(path []string, id string) {
		node, ok := headings[id]
		if !ok || node.Lines().Len() == 0 {
			return
		}
		secs = append(secs, section{
			heading: formatHeadingPath(path),
			start:   lineStart(source, node.Lines().At(0).Start),
		})
	})

	// Close each section at the start of the next one, the last at EOF.
	for i := range secs {
		if i+1 < len(secs) {
			secs[i].end = secs[i+1].start
		} else {
			secs[i].end = len(source)
		}
	}
	return secs, nil
}

// flattenItems walks the TOC tree in document order, invoking visit with
// the accumulated heading path for every item.
func flattenItems(items toc.Items, ancestors []string, visit func(path []string, id string)) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		visit(path, string(item.ID))
		if len(item.Items) > 0 {
			flattenItems(item.Items, path, visit)
		}
	}
}

// headingsByID indexes every heading node by its auto-generated ID in a
// single AST pass.
func headingsByID(doc ast.Node) map[string]*ast.Heading {
	headings := make(map[string]*ast.Heading)
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			heading := n.(*ast.Heading)
			if id, ok := heading.AttributeString("id"); ok {
				headings[string(id.([]byte))] = heading
			}
		}
		return ast.WalkContinue, nil
	})
	return headings
}

// formatHeadingPath renders ["Installation", "Prerequisites"] as
// "# Installation > ## Prerequisites".
func formatHeadingPath(path []string) string {
	parts := make([]string, len(path))
	for i, title := range path {
		parts[i] = strings.Repeat("#", i+1) + " " + title
	}
	return strings.Join(parts, " > ")
}

// splitOversized cuts a section into <= maxChars pieces with overlap,
// respecting rune boundaries. start is the byte offset of text in the
// source, carried through so every piece keeps accurate offsets.
func (s *Splitter) splitOversized(sectionText string, start int) []Fragment {
	if len(sectionText) <= s.maxChars {
		return []Fragment{{Text: sectionText, Start: start, End: start + len(sectionText)}}
	}

	step := s.maxChars - s.overlap
	var pieces []Fragment
	offset := 0
	for offset < len(sectionText) {
		end := offset + s.maxChars
		if end >= len(sectionText) {
			end = len(sectionText)
		} else {
			end = runeFloor(sectionText, end)
		}

		piece, pieceStart := trimSegment([]byte(sectionText), offset, end)
		if piece != "" {
			pieces = append(pieces, Fragment{
				Text:  piece,
				Start: start + pieceStart,
				End:   start + pieceStart + len(piece),
			})
		}
		if end == len(sectionText) {
			break
		}
		next := runeFloor(sectionText, offset+step)
		if next <= offset {
			// The step landed inside the rune at offset; move past it so
			// the loop always advances.
			_, size := utf8.DecodeRuneInString(sectionText[offset:])
			next = offset + size
		}
		offset = next
	}
	return pieces
}

// trimSegment trims whitespace from source[start:end] and returns the
// trimmed text with its adjusted start offset.
func trimSegment(source []byte, start, end int) (string, int) {
	raw := string(source[start:end])
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", start
	}
	return trimmed, start + strings.Index(raw, trimmed)
}

// lineStart lowers idx to the start of its line. Heading segments begin at
// the heading text, past the ATX markers; sections must begin at the
// markers so no fragment ends with a dangling "##".
func lineStart(source []byte, idx int) int {
	for idx > 0 && source[idx-1] != '\n' {
		idx--
	}
	return idx
}

// runeFloor lowers idx to the nearest rune start at or before it.
func runeFloor(s string, idx int) int {
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}

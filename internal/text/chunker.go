package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Section is a run of extracted text sharing one page number.
// Page is 0 when the source has no pages.
type Section struct {
	Text string
	Page int
}

type Chunk struct {
	Content  string
	Page     int
	Position int
}

// Separators are tried in order; the empty separator splits into runes.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n\s*(\n\s*)+`)
)

// Normalize collapses horizontal whitespace and keeps at most one blank line
// between paragraphs, so paragraph boundaries survive for the splitter.
func Normalize(s string) string {
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Splitter cuts text into windows of at most Size runes. Consecutive windows
// produced from the same piece of text share up to Overlap runes.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Chunk splits every section and numbers the chunks in document order.
// Each chunk keeps the page of the section it came from.
func (s *Splitter) Chunk(sections []Section) []Chunk {
	var chunks []Chunk
	for _, sec := range sections {
		for _, content := range s.Split(sec.Text) {
			chunks = append(chunks, Chunk{
				Content:  content,
				Page:     sec.Page,
				Position: len(chunks),
			})
		}
	}
	return chunks
}

// Split breaks text on the coarsest separator that yields pieces small enough,
// falling back paragraph -> line -> sentence -> word -> rune.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, c := range s.split(text, defaultSeparators) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, c := range separators {
		if c == "" || strings.Contains(text, c) {
			sep = c
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.SplitAfter(text, sep)
	}

	var out, fit []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= s.size {
			fit = append(fit, p)
			continue
		}
		if len(fit) > 0 {
			out = append(out, s.merge(fit)...)
			fit = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(fit) > 0 {
		out = append(out, s.merge(fit)...)
	}
	return out
}

// merge packs small pieces into windows. When a window is full it is emitted
// and pieces are dropped from its front until at most overlap runes remain,
// which then start the next window.
func (s *Splitter) merge(pieces []string) []string {
	var out []string
	var current []string
	total := 0

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > s.size && len(current) > 0 {
			out = append(out, strings.Join(current, ""))
			for len(current) > 0 && (total > s.overlap || total+n > s.size) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, ""))
	}
	return out
}

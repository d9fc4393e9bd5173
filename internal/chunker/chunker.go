package chunker

import (
	"strings"

	"github.com/quantive/sage/internal/config"
)

// ChunkType classifies the dominant structure of a chunk.
type ChunkType string

const (
	TypeText    ChunkType = "text"
	TypeTable   ChunkType = "table"
	TypeList    ChunkType = "list"
	TypeCode    ChunkType = "code"
	TypeHeading ChunkType = "heading"
)

// Chunk is one fragment of a larger document. Word offsets are positions in
// the parent's token sequence; WordEnd is exclusive. Consecutive chunks share
// an overlap of Config.Overlap words so retrieval keeps context across
// boundaries.
type Chunk struct {
	Index      int
	Text       string
	WordStart  int
	WordEnd    int
	CharCount  int
	Type       ChunkType
	Importance float64
	Concepts   []string
	Entities   []string
}

// Config controls the sliding window. Zero values take the defaults
// (1000-word windows with a 100-word overlap).
type Config struct {
	MaxWords int
	Overlap  int
}

// Chunker splits normalized text into overlapping, feature-tagged chunks.
type Chunker struct {
	cfg   Config
	vocab *config.Vocabulary
}

// New creates a Chunker. The vocabulary drives importance scoring and
// concept extraction and must not be nil. An overlap that is negative or
// not smaller than the window is clamped to a tenth of the window, so the
// step stays positive for any configured window size.
func New(cfg Config, vocab *config.Vocabulary) *Chunker {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = 1000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxWords {
		cfg.Overlap = cfg.MaxWords / 10
	}
	return &Chunker{cfg: cfg, vocab: vocab}
}

// Split produces the ordered chunk sequence for text. The chunks cover the
// full token sequence with no gaps: each window advances by MaxWords-Overlap,
// so removing the leading Overlap words from every chunk after the first
// reconstructs the original token stream exactly.
func (c *Chunker) Split(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.cfg.MaxWords - c.cfg.Overlap
	var chunks []Chunk

	for start := 0; ; start += step {
		end := start + c.cfg.MaxWords
		if end > len(words) {
			end = len(words)
		}

		body := strings.Join(words[start:end], " ")
		ch := Chunk{
			Index:     len(chunks),
			Text:      body,
			WordStart: start,
			WordEnd:   end,
			CharCount: len(body),
			Type:      c.classify(body),
		}
		ch.Importance = c.scoreImportance(body, end-start)
		ch.Concepts = c.extractConcepts(body)
		ch.Entities = extractEntities(body)
		chunks = append(chunks, ch)

		if end == len(words) {
			break
		}
	}

	return chunks
}

// classify picks a structural type with lightweight pattern checks, in
// priority order: table, list, code, heading, plain text.
func (c *Chunker) classify(text string) ChunkType {
	switch {
	case looksTabular(text):
		return TypeTable
	case hasListMarkers(text):
		return TypeList
	case looksLikeCode(text):
		return TypeCode
	case strings.HasPrefix(strings.TrimSpace(text), "#"):
		return TypeHeading
	default:
		return TypeText
	}
}

func looksTabular(text string) bool {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.Count(line, "|") >= 2 || strings.Count(line, "\t") >= 2 {
			rows++
		}
		if rows >= 2 {
			return true
		}
	}
	return false
}

func hasListMarkers(text string) bool {
	marked := 0
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || startsWithNumber(t) {
			marked++
		}
		if marked >= 2 {
			return true
		}
	}
	return false
}

func startsWithNumber(line string) bool {
	if len(line) < 3 {
		return false
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') && i+1 < len(line) && line[i+1] == ' '
}

var codeTokens = []string{"import ", "func ", "function ", "class ", "def ", "return ", "const ", "var "}

func looksLikeCode(text string) bool {
	hits := 0
	for _, tok := range codeTokens {
		if strings.Contains(text, tok) {
			hits++
		}
		if hits >= 2 {
			return true
		}
	}
	return false
}

const maxKeywordBonus = 0.3

// scoreImportance computes the [0,1] importance heuristic: start at 0.5,
// reward business-keyword density, visible structure, enumeration, and
// substance; penalise very short fragments.
func (c *Chunker) scoreImportance(text string, wordCount int) float64 {
	score := 0.5
	lower := strings.ToLower(text)

	bonus := 0.0
	for _, kw := range c.vocab.BusinessKeywords {
		if strings.Contains(lower, kw) {
			bonus += 0.1
		}
	}
	if bonus > maxKeywordBonus {
		bonus = maxKeywordBonus
	}
	score += bonus

	if strings.Contains(text, ":\n") {
		score += 0.1
	}
	if hasListMarkers(text) {
		score += 0.1
	}
	if len(text) > 500 {
		score += 0.1
	}
	if len(text) < 100 {
		score -= 0.2
	}
	if wordCount < 20 {
		score -= 0.2
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

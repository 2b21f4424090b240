package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/qquiz/qquiz/internal/models"
	"golang.org/x/text/width"
)

// DefaultDedupThreshold is the similarity at which two questions are
// considered the same.
const DefaultDedupThreshold = 0.85

// NormalizeContent strips whitespace and punctuation and lower-cases the
// text. It is the input of ContentHash.
func NormalizeContent(content string) string {
	var b strings.Builder
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ContentHash identifies questions that are identical up to whitespace,
// punctuation and case.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

var punctuationReplacer = strings.NewReplacer(
	"｡", ".", "。", ".",
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// NormalizeText prepares text for fuzzy comparison: lower case, single
// spaces, and half-width punctuation.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(width.Narrow.String(text))
	text = punctuationReplacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Similarity scores two question texts between 0 and 1. Character-level
// sequence similarity weighs 0.7 and word-set Jaccard similarity 0.3.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == nb {
		return 1
	}

	charSim := SequenceRatio(na, nb)

	wordsA, wordsB := wordSet(na), wordSet(nb)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return charSim
	}
	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	jaccard := float64(intersection) / float64(union)

	return 0.7*charSim + 0.3*jaccard
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// Deduper remembers accepted questions and rejects new ones that repeat
// them exactly (by content hash) or approximately (by Similarity).
type Deduper struct {
	threshold float64
	hashes    map[string]bool
	contents  []string
}

// NewDeduper returns an empty Deduper. A threshold of 0 selects
// DefaultDedupThreshold.
func NewDeduper(threshold float64) *Deduper {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	return &Deduper{threshold: threshold, hashes: make(map[string]bool)}
}

// Add records q as accepted.
func (d *Deduper) Add(q *models.Question) {
	if q.ContentHash == "" {
		q.ContentHash = ContentHash(q.Content)
	}
	d.hashes[q.ContentHash] = true
	d.contents = append(d.contents, q.Content)
}

// HasHash reports an exact repeat.
func (d *Deduper) HasHash(q *models.Question) bool {
	if q.ContentHash == "" {
		q.ContentHash = ContentHash(q.Content)
	}
	return d.hashes[q.ContentHash]
}

// IsSimilar reports whether q is close enough to an accepted question.
func (d *Deduper) IsSimilar(q *models.Question) bool {
	if q.Content == "" {
		return false
	}
	for _, existing := range d.contents {
		if existing == "" {
			continue
		}
		if Similarity(q.Content, existing) >= d.threshold {
			return true
		}
	}
	return false
}

// Len returns the number of accepted questions.
func (d *Deduper) Len() int {
	return len(d.contents)
}

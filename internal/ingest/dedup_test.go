package ingest

import (
	"strings"
	"testing"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	assert.Equal(t, "whatistcp中文", NormalizeContent(" What is  TCP? 中文！"))
	assert.Equal(t, ContentHash("What is TCP?"), ContentHash("what is tcp"))
	assert.NotEqual(t, ContentHash("What is TCP?"), ContentHash("What is UDP?"))
	assert.Len(t, ContentHash("x"), 32)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "你好, 世界. 是吗?", NormalizeText("  你好，  世界。\n是吗？ "))
	assert.Equal(t, `abc "q"`, NormalizeText("ＡＢＣ “q”"))
	assert.Equal(t, "", NormalizeText(""))
}

func TestSequenceRatio(t *testing.T) {
	assert.InDelta(t, 0.75, SequenceRatio("abcd", "bcde"), 1e-9)
	assert.InDelta(t, 1.0, SequenceRatio("", ""), 1e-9)
	assert.InDelta(t, 0.0, SequenceRatio("abc", "xyz"), 1e-9)
	// difflib.SequenceMatcher(None, "private", "pirate").ratio()
	assert.InDelta(t, 10.0/13.0, SequenceRatio("private", "pirate"), 1e-9)
	assert.InDelta(t, 1.0, SequenceRatio(strings.Repeat("ab ", 100), strings.Repeat("ab ", 100)), 1e-9)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("What is TCP？", "what is  tcp?"))
	assert.Equal(t, 0.0, Similarity("", "x"))

	a := "Which layer of the OSI model does TCP operate on?"
	b := "Which layer of the OSI model does TCP operate in?"
	assert.GreaterOrEqual(t, Similarity(a, b), DefaultDedupThreshold)

	c := "Which port does HTTPS use by default?"
	assert.Less(t, Similarity(a, c), DefaultDedupThreshold)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(0)
	first := &models.Question{Content: "What does DNS stand for?"}
	d.Add(first)
	assert.NotEmpty(t, first.ContentHash)
	assert.Equal(t, 1, d.Len())

	assert.True(t, d.HasHash(&models.Question{Content: "what does dns stand for"}))
	assert.True(t, d.IsSimilar(&models.Question{Content: "What does DNS stand for?!"}))
	assert.False(t, d.IsSimilar(&models.Question{Content: "What does DHCP assign to hosts?"}))
	assert.False(t, d.IsSimilar(&models.Question{Content: ""}))
}

package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// chunkTargetSize is the size a chunk grows toward before closing.
	chunkTargetSize = 1024
	// chunkMaxSize is the hard cap; sentence-free text is split here.
	chunkMaxSize = 2048
	// chunkOverlapSentences from the previous chunk lead the next one.
	chunkOverlapSentences = 2
)

// sentenceBoundary matches terminal punctuation followed by whitespace.
var sentenceBoundary = regexp.MustCompile(`([.!?]+)\s+`)

// splitSentences returns the text as sentences with their punctuation
// retained. Text without boundaries comes back as a single element.
func splitSentences(text string) []string {
	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

// ChunkText splits text into overlapping chunks around sentence boundaries.
// Chunks grow to roughly the target size and never past the max; each chunk
// after the first is prefixed with the last two sentences of its
// predecessor. Text lacking sentence boundaries falls back to fixed
// character spans.
func ChunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkTargetSize {
		return []string{text}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return chunkBySpan(text)
	}

	var chunks []string
	var current []string
	currentLen := 0
	for _, sentence := range sentences {
		if len(sentence) > chunkMaxSize {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current, currentLen = overlapTail(current), 0
				for _, s := range current {
					currentLen += len(s) + 1
				}
			}
			chunks = append(chunks, chunkBySpan(sentence)...)
			continue
		}
		if currentLen > 0 && currentLen+len(sentence) > chunkTargetSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = overlapTail(current)
			currentLen = 0
			for _, s := range current {
				currentLen += len(s) + 1
			}
		}
		current = append(current, sentence)
		currentLen += len(sentence) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// overlapTail returns the trailing sentences carried into the next chunk.
func overlapTail(sentences []string) []string {
	if len(sentences) <= chunkOverlapSentences {
		return append([]string(nil), sentences...)
	}
	return append([]string(nil), sentences[len(sentences)-chunkOverlapSentences:]...)
}

// chunkBySpan splits sentence-free text into max-size character spans.
func chunkBySpan(text string) []string {
	var chunks []string
	for len(text) > chunkMaxSize {
		chunks = append(chunks, text[:chunkMaxSize])
		text = text[chunkMaxSize:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// chunkID derives the deterministic id of the i-th chunk of a document.
func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%04d", documentID, index)
}

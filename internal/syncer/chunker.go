package syncer

import (
	"strings"
)

// ChunkOptions tunes the chunker.
//
// TargetSize: emit the running buffer once adding the next paragraph would
// push it past this many characters. The comparison is strict `>`: a buffer
// landing exactly on the threshold does not split.
// Overlap:    tail of the emitted chunk carried into the next one, trimmed
// back to a sentence boundary (then word boundary, then hard cut).
// Oversize:   factor over TargetSize past which a paragraph or buffer is
// split on sentence boundaries before continuing.
type ChunkOptions struct {
	TargetSize int
	Overlap    int
	Oversize   float64
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{TargetSize: 3000, Overlap: 400, Oversize: 1.5}
}

// SplitText splits a document's plain text into ordered chunks. Paragraphs
// are accumulated into a running buffer; each emitted chunk seeds the next
// with an overlap tail so retrieval keeps local context across boundaries.
// Empty or whitespace-only input yields no chunks; callers must treat that as
// "skip this document", not "index nothing".
func SplitText(text string, opt ChunkOptions) []string {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}
	oversize := int(float64(opt.TargetSize) * opt.Oversize)

	var chunks []string
	buf := ""

	// add folds one bounded piece into the buffer, emitting the buffer first
	// when the piece would push it past the target.
	add := func(p string) {
		if buf == "" {
			buf = p
			return
		}
		candidate := buf + "\n\n" + p
		if len(candidate) > opt.TargetSize {
			chunks = append(chunks, buf)
			if tail := overlapTail(buf, opt.Overlap); tail != "" {
				buf = tail + "\n\n" + p
			} else {
				buf = p
			}
			return
		}
		buf = candidate
	}

	for _, p := range paras {
		if len(p) > oversize {
			for _, piece := range splitBySentences(p, opt.TargetSize) {
				add(piece)
			}
			continue
		}
		add(p)

		// An overlap tail plus a large paragraph can still overshoot; split
		// the buffer itself and keep only the last piece running.
		if len(buf) > oversize {
			pieces := splitBySentences(buf, opt.TargetSize)
			chunks = append(chunks, pieces[:len(pieces)-1]...)
			buf = pieces[len(pieces)-1]
		}
	}

	if strings.TrimSpace(buf) != "" {
		chunks = append(chunks, buf)
	}
	return chunks
}

// splitParagraphs splits on blank-line boundaries, trimming each paragraph
// and dropping empties.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		paras []string
		cur   []string
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		p := strings.TrimSpace(strings.Join(cur, "\n"))
		if p != "" {
			paras = append(paras, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return paras
}

// overlapTail returns the last n characters of s, trimmed forward so it
// starts at a sentence boundary, or failing that a word boundary, or failing
// that the hard n-character cut. Chunks no longer than the overlap produce no
// tail at all, since carrying the whole chunk would just duplicate it.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	tail := string(r[len(r)-n:])

	if idx := sentenceStart(tail); idx > 0 {
		return strings.TrimSpace(tail[idx:])
	}
	if idx := strings.IndexAny(tail, " \t\n"); idx >= 0 {
		if rest := strings.TrimSpace(tail[idx:]); rest != "" {
			return rest
		}
	}
	return tail
}

// sentenceStart finds the first position in s just past a sentence-ending
// punctuation mark followed by whitespace, or -1 when there is none.
func sentenceStart(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				return i + 2
			}
		}
	}
	return -1
}

// splitBySentences breaks s into pieces no longer than target, packing whole
// sentences per piece and hard-cutting any single sentence that is itself
// longer than target.
func splitBySentences(s string, target int) []string {
	var pieces []string
	cur := ""

	for _, sent := range splitSentences(s) {
		for runeLen(sent) > target {
			if cur != "" {
				pieces = append(pieces, cur)
				cur = ""
			}
			r := []rune(sent)
			pieces = append(pieces, string(r[:target]))
			sent = string(r[target:])
		}
		if cur == "" {
			cur = sent
			continue
		}
		candidate := cur + " " + sent
		if len(candidate) > target {
			pieces = append(pieces, cur)
			cur = sent
		} else {
			cur = candidate
		}
	}

	if cur != "" {
		pieces = append(pieces, cur)
	}
	if len(pieces) == 0 {
		pieces = []string{s}
	}
	return pieces
}

// splitSentences splits after sentence-ending punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(s string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				sent := strings.TrimSpace(s[start : i+1])
				if sent != "" {
					out = append(out, sent)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

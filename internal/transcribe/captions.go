package transcribe

import "strings"

// Caption is a group of consecutive words shown together.
type Caption struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// GroupWords splits words into captions of at most maxWords, starting a new
// caption whenever the gap between words exceeds pauseGap seconds. The editor
// does its own chunking; this is used by the CLI and tests.
func GroupWords(words []Word, maxWords int, pauseGap float64) []Caption {
	if maxWords <= 0 {
		maxWords = 1
	}
	var (
		out     []Caption
		current []Word
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		texts := make([]string, len(current))
		for i, w := range current {
			texts[i] = w.Text
		}
		out = append(out, Caption{
			Text:  strings.Join(texts, " "),
			Start: current[0].Start,
			End:   current[len(current)-1].End,
			Words: current,
		})
		current = nil
	}
	for _, w := range words {
		if len(current) > 0 {
			gap := w.Start - current[len(current)-1].End
			if len(current) >= maxWords || (pauseGap > 0 && gap > pauseGap) {
				flush()
			}
		}
		current = append(current, w)
	}
	flush()
	return out
}

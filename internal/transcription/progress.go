package transcription

import (
	"regexp"
	"strconv"
)

// percentPattern matches NN%-style progress tokens in the engine's stderr,
// e.g. "whisper_print_progress_callback: progress =  35%".
var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// progressParser extracts percentages from diagnostic lines and filters
// them down to a monotonically non-decreasing, deduplicated sequence so
// progress-bar consumers never see jitter.
type progressParser struct {
	last       int
	onProgress func(pct int)
}

func newProgressParser(onProgress func(pct int)) *progressParser {
	return &progressParser{last: -1, onProgress: onProgress}
}

// Feed parses one stderr line. Decreasing, repeated, or out-of-range values
// are dropped.
func (p *progressParser) Feed(line string) {
	match := percentPattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	pct, err := strconv.Atoi(match[1])
	if err != nil || pct < 0 || pct > 100 {
		return
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.onProgress != nil {
		p.onProgress(pct)
	}
}

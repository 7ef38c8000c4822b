package transcription

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressParserExtractsPercentages(t *testing.T) {
	var seen []int
	p := newProgressParser(func(pct int) { seen = append(seen, pct) })

	p.Feed("whisper_print_progress_callback: progress =   5%")
	p.Feed("whisper_print_progress_callback: progress =  40%")
	p.Feed("whisper_print_progress_callback: progress = 100%")

	require.Equal(t, []int{5, 40, 100}, seen)
}

func TestProgressParserIgnoresNonProgressLines(t *testing.T) {
	var seen []int
	p := newProgressParser(func(pct int) { seen = append(seen, pct) })

	p.Feed("whisper_init_from_file_with_params_no_state: loading model")
	p.Feed("system_info: n_threads = 4")

	require.Empty(t, seen)
}

func TestProgressParserDropsDecreasingAndRepeated(t *testing.T) {
	var seen []int
	p := newProgressParser(func(pct int) { seen = append(seen, pct) })

	for _, line := range []string{
		"progress = 10%",
		"progress = 10%",
		"progress = 5%",
		"progress = 30%",
		"progress = 20%",
		"progress = 30%",
		"progress = 90%",
	} {
		p.Feed(line)
	}

	require.Equal(t, []int{10, 30, 90}, seen)
}

func TestProgressParserNilCallback(t *testing.T) {
	p := newProgressParser(nil)
	require.NotPanics(t, func() { p.Feed("progress = 50%") })
}

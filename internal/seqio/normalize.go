package seqio

import (
	"bytes"
	"regexp"
)

// NormalizeSequence uppercases residues, maps '.' and '~' gaps to '-', and
// drops whitespace and digits (column counters in some formats).
func NormalizeSequence(line []byte) []byte {
	out := make([]byte, 0, len(line))
	for _, c := range line {
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		case c >= '0' && c <= '9':
		case c == '.' || c == '~':
			out = append(out, '-')
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		default:
			out = append(out, c)
		}
	}
	return out
}

// ReportNormalizer removes run-specific noise from program reports (timing
// lines, dates, host names, process IDs) so that the same model choice is
// stored under the same content key across runs.
type ReportNormalizer struct {
	patterns []*normPattern
}

type normPattern struct {
	regex       *regexp.Regexp
	replacement []byte
}

// NewReportNormalizer creates a normalizer with the patterns model-testing
// programs commonly print.
func NewReportNormalizer() *ReportNormalizer {
	return &ReportNormalizer{
		patterns: []*normPattern{
			// ISO 8601 and log timestamps.
			{
				regex:       regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[T\s]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`),
				replacement: []byte("<TIMESTAMP>"),
			},
			// ctime-style dates: Mon Oct 19 10:30:45 2026
			{
				regex:       regexp.MustCompile(`\b(Mon|Tue|Wed|Thu|Fri|Sat|Sun) (Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) +\d{1,2} \d{2}:\d{2}:\d{2} \d{4}\b`),
				replacement: []byte("<DATE>"),
			},
			// Wall-clock and CPU time lines.
			{
				regex:       regexp.MustCompile(`(?m)^(Total )?(CPU|Wall-clock|wall-clock|Elapsed) time.*$`),
				replacement: []byte("<TIME>"),
			},
			{
				regex:       regexp.MustCompile(`(?m)^Host:.*$`),
				replacement: []byte("Host: <HOST>"),
			},
			{
				regex:       regexp.MustCompile(`\b[Pp][Ii][Dd][:\s]*\d+\b`),
				replacement: []byte("pid <PID>"),
			},
		},
	}
}

// Normalize converts CRLF to LF and replaces every noise pattern.
func (n *ReportNormalizer) Normalize(content []byte) []byte {
	result := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	for _, p := range n.patterns {
		result = p.regex.ReplaceAll(result, p.replacement)
	}
	return result
}

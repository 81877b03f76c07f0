package metrics

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrNilResult is returned when asked to render a missing result.
var ErrNilResult = errors.New("metrics: nil result")

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// Render writes r in the Prometheus text format, one line per sample:
//
//	name{label="value",...} value
//
// Braces are omitted when a sample has no labels. No HELP or TYPE lines are
// written.
func Render(w io.Writer, r *Result) error {
	if r == nil {
		return ErrNilResult
	}
	// bufio.Writer errors are sticky and surface from Flush.
	bw := bufio.NewWriter(w)
	for _, name := range r.order {
		for _, s := range r.samples[name] {
			bw.WriteString(name)
			if len(s.Labels) > 0 {
				bw.WriteByte('{')
				for i, l := range s.Labels {
					if i > 0 {
						bw.WriteByte(',')
					}
					bw.WriteString(l.Name)
					bw.WriteString(`="`)
					bw.WriteString(escapeLabelValue(l.Value))
					bw.WriteByte('"')
				}
				bw.WriteByte('}')
			}
			bw.WriteByte(' ')
			bw.WriteString(formatFloat(s.Value))
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// RenderBytes renders r into a new byte slice.
func RenderBytes(r *Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// escapeLabelValue escapes v for a quoted label value. Invalid UTF-8 from
// the wire is replaced with U+FFFD, which the text format requires.
func escapeLabelValue(v string) string {
	return labelValueEscaper.Replace(strings.ToValidUTF8(v, "\uFFFD"))
}

// formatFloat returns the shortest representation of v with no trailing
// zeros (e.g. 72.0 → "72", 1.37 → "1.37"). Very large or very small
// magnitudes use exponent notation instead of hundreds of digits.
func formatFloat(v float64) string {
	if a := math.Abs(v); a >= 1e21 || (a != 0 && a < 1e-6) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

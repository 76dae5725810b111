package expr

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Labeled is a formula read from a file, with its optional numeric label
// (typically a precomputed expected reward).
type Labeled struct {
	Formula  *Node
	Label    float64
	HasLabel bool
	Line     int
}

type LoadResult struct {
	Formulas []Labeled
	Accepted int
	Rejected int
	Errors   []*ParseError
}

// ReadFormulas reads one formula per line. The first whitespace-separated
// field is the formula and an optional second field is its label. Blank
// lines and lines starting with '#' are ignored; malformed lines are
// skipped and recorded in Errors. The returned error is only set on I/O
// failure.
func ReadFormulas(r io.Reader, d *Domain) (LoadResult, error) {
	var res LoadResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		n, err := Parse(fields[0], d)
		if err != nil {
			pe := err.(*ParseError)
			pe.Line = line
			res.Errors = append(res.Errors, pe)
			res.Rejected++
			continue
		}

		item := Labeled{Formula: n, Line: line}
		if len(fields) > 1 {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				res.Errors = append(res.Errors, &ParseError{
					Line: line,
					Text: text,
					Err:  fmt.Errorf("%w: ラベル %q", ErrSyntax, fields[1]),
				})
				res.Rejected++
				continue
			}
			item.Label = v
			item.HasLabel = true
		}
		res.Formulas = append(res.Formulas, item)
		res.Accepted++
	}
	return res, scanner.Err()
}

func WriteFormulas(w io.Writer, formulas []Labeled) error {
	bw := bufio.NewWriter(w)
	for _, f := range formulas {
		var err error
		if f.HasLabel {
			_, err = fmt.Fprintf(bw, "%s\t%s\n", f.Formula, strconv.FormatFloat(f.Label, 'g', -1, 64))
		} else {
			_, err = fmt.Fprintf(bw, "%s\n", f.Formula)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

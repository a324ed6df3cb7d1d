package fetcher

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// tableRow is one <tr> flattened to trimmed cell texts.
type tableRow struct {
	Text  string
	Cells []string
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func parseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// tableRows walks every table row in document order. cellSelector picks
// which children count as cells ("td" or "td, th").
func tableRows(doc *goquery.Document, cellSelector string) []tableRow {
	var rows []tableRow
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var all []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			all = append(all, normalizeSpace(cell.Text()))
		})
		row := tableRow{Text: strings.ToLower(strings.Join(all, " "))}
		tr.Find(cellSelector).Each(func(_ int, cell *goquery.Selection) {
			row.Cells = append(row.Cells, normalizeSpace(cell.Text()))
		})
		rows = append(rows, row)
	})
	return rows
}

// mentions reports whether text contains any include phrase and no exclude phrase.
func mentions(text string, include, exclude []string) bool {
	for _, ex := range exclude {
		if strings.Contains(text, ex) {
			return false
		}
	}
	for _, in := range include {
		if strings.Contains(text, in) {
			return true
		}
	}
	return false
}

// numberRange is an inclusive or exclusive window used to discard tokens that
// cannot be USD/LKR quotes (dates, percentages, units).
type numberRange struct {
	Min, Max  decimal.Decimal
	Exclusive bool
}

func (r numberRange) contains(v decimal.Decimal) bool {
	if r.Exclusive {
		return v.GreaterThan(r.Min) && v.LessThan(r.Max)
	}
	return v.GreaterThanOrEqual(r.Min) && v.LessThanOrEqual(r.Max)
}

func stripCommas(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", "")
}

func parseNumber(s string) (decimal.Decimal, bool) {
	s = stripCommas(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

// firstMatch takes the first capture of the first pattern that matches text
// and accepts it only if it lies inside window. Later patterns are fallbacks
// for text the earlier ones do not match at all, not for out-of-range values.
func firstMatch(text string, window numberRange, patterns ...*regexp.Regexp) (decimal.Decimal, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v, ok := parseNumber(m[1])
		if !ok || !window.contains(v) {
			break
		}
		return v, true
	}
	return decimal.Decimal{}, false
}

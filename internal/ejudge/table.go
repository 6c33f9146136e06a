package ejudge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractTableRows finds the section headed by the exact heading text
// and returns the cell texts of its b1 table, one slice per data row.
// The table must follow the heading before any further section starts;
// a missing table is the judge's way of saying there is nothing to
// show, reported as ErrNoData.
func extractTableRows(page []byte, heading string) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var section *goquery.Selection
	doc.Find("h2").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if strings.TrimSpace(h.Text()) == heading {
			section = h
			return false
		}
		return true
	})
	if section == nil {
		return nil, fmt.Errorf("%w: no %q section", ErrNoData, heading)
	}

	var table *goquery.Selection
	for next := section.Next(); next.Length() > 0; next = next.Next() {
		if goquery.NodeName(next) == "h2" {
			break
		}
		if goquery.NodeName(next) == "table" && next.HasClass("b1") {
			table = next
			break
		}
		if t := next.Find("table.b1").First(); t.Length() > 0 {
			table = t
			break
		}
	}
	if table == nil {
		return nil, fmt.Errorf("%w: %q section has no table", ErrNoData, heading)
	}

	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return // header row
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// Package htmltable flattens the <table> elements of a modem status page into
// rows of cell text.
package htmltable

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Row is a <tr>. Cells holds the text of its <td> descendants only; Header
// is set when the row contains any <th>.
type Row struct {
	Cells  []string
	Header bool
}

type Table struct {
	// Rows are all <tr> descendants in document order, nested tables included.
	Rows []Row
	// Body are the rows of the first <tbody> below the table.
	Body []Row
}

// Parse returns every <table> of the document in document order, nested
// tables included.
func Parse(r io.Reader) (tables []Table, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	tables = []Table{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		tables = append(tables, Table{
			Rows: parseRows(table.Find("tr")),
			Body: parseRows(table.Find("tbody").First().Find("tr")),
		})
	})
	return tables, nil
}

func parseRows(rows *goquery.Selection) []Row {
	parsed := []Row{}
	rows.Each(func(_ int, tr *goquery.Selection) {
		row := Row{
			Cells:  []string{},
			Header: tr.Find("th").Length() > 0,
		}
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			row.Cells = append(row.Cells, cellText(td))
		})
		parsed = append(parsed, row)
	})
	return parsed
}

func cellText(s *goquery.Selection) string {
	var contentBuffer bytes.Buffer
	for _, n := range s.Nodes {
		writeText(n, &contentBuffer)
	}
	return strings.TrimSpace(contentBuffer.String())
}

func writeText(n *html.Node, buf *bytes.Buffer) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, buf)
	}
}

// Cell returns the i-th cell of the row, or false when the row is too short.
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r.Cells) {
		return "", false
	}
	return r.Cells[i], true
}

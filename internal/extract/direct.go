package extract

import (
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// directText pulls the embedded text layer from a PDF, row by row, up to
// pageBudget pages. Returns the text and the number of pages processed.
func directText(path string, pageBudget int) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, eris.Wrapf(err, "extract: open pdf %s", path)
	}
	defer f.Close()

	totalPages := r.NumPage()
	pages := totalPages
	if pages > pageBudget {
		pages = pageBudget
	}

	var sb strings.Builder
	for pageIndex := 1; pageIndex <= pages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		rows, err := p.GetTextByRow()
		if err != nil {
			// A single unreadable page should not sink the rest.
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteString(" ")
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), pages, nil
}

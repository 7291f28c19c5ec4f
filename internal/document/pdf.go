package document

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFStrategy extracts plain text page by page. A page whose text cannot
// be read contributes an empty page rather than failing the document.
type PDFStrategy struct{}

func (PDFStrategy) Name() string { return "pdf" }

func (PDFStrategy) Pages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, pageText(r.Page(i)))
	}
	return pages, nil
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

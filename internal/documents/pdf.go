package documents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxPages bounds how many pages of an upload are read.
const DefaultMaxPages = 20

// ExtractPDF returns the plain text of the first maxPages pages of the PDF at
// path. Pages without extractable text are skipped.
func ExtractPDF(ctx context.Context, path string, maxPages int) (string, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &Error{URL: path, Message: "failed to open PDF", Cause: err}
	}
	defer f.Close()

	total := r.NumPage()
	if total > maxPages {
		total = maxPages
	}

	var out strings.Builder
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", &Error{URL: path, Message: fmt.Sprintf("failed to read page %d", i), Cause: err}
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}

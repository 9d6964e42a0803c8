package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"pagechat/internal/apperr"
	"pagechat/internal/text"
)

// PDF reads uploaded files from local storage and remote files over HTTP.
type PDF struct {
	client   *http.Client
	maxBytes int64
}

func NewPDF(client *http.Client, maxBytes int64) *PDF {
	return &PDF{client: client, maxBytes: maxBytes}
}

func (p *PDF) Fetch(ctx context.Context, origin string, maxPages int) ([]text.Section, error) {
	if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
		body, err := download(ctx, p.client, origin, p.maxBytes)
		if err != nil {
			return nil, err
		}
		return ExtractPDF(bytes.NewReader(body), int64(len(body)), maxPages)
	}

	f, err := os.Open(origin) // #nosec G304 -- origin is a server-generated upload path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrSourceNotFound, origin)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	return ExtractPDF(f, info.Size(), maxPages)
}

// ExtractPDF returns one section per page that has text. The page ceiling is
// checked before any page is read.
func ExtractPDF(r io.ReaderAt, size int64, maxPages int) (sections []text.Section, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if rec := recover(); rec != nil {
			sections = nil
			err = fmt.Errorf("%w: %v", apperr.ErrParse, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}

	n := reader.NumPage()
	if maxPages > 0 && n > maxPages {
		return nil, fmt.Errorf("%w: %d pages, plan allows %d", apperr.ErrTooManyPages, n, maxPages)
	}

	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", apperr.ErrParse, i, err)
		}
		if content = text.Normalize(content); content != "" {
			sections = append(sections, text.Section{Text: content, Page: i})
		}
	}

	if len(sections) == 0 {
		return nil, apperr.ErrNoText
	}
	return sections, nil
}

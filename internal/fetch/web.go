package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pagechat/internal/apperr"
	"pagechat/internal/text"
)

type Web struct {
	client   *http.Client
	maxBytes int64
}

func NewWeb(client *http.Client, maxBytes int64) *Web {
	return &Web{client: client, maxBytes: maxBytes}
}

func (w *Web) Fetch(ctx context.Context, origin string, _ int) ([]text.Section, error) {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidSourceURL, origin)
	}

	body, err := download(ctx, w.client, u.String(), w.maxBytes)
	if err != nil {
		return nil, err
	}

	title, content, err := ExtractHTML(body)
	if err != nil {
		return nil, err
	}
	if title != "" && !strings.HasPrefix(content, title) {
		content = title + "\n\n" + content
	}
	return []text.Section{{Text: content}}, nil
}

// Elements whose text is never part of the readable content.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Tr: true, atom.Br: true, atom.Hr: true, atom.Dd: true, atom.Dt: true,
}

// ExtractHTML returns the page title and its readable text, with block
// elements separated by blank lines.
func ExtractHTML(body []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}

	var title string
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title {
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skipped[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteString("\n\n")
		}
	}
	walk(doc)

	content := text.Normalize(b.String())
	if content == "" && title == "" {
		return "", "", apperr.ErrNoText
	}
	return title, content, nil
}

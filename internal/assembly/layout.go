package assembly

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageBreak separates consecutive templates in a combined document.
const PageBreak = `<div style="page-break-after: always; break-after: page;"></div>`

// BuildDocument lays several HTML templates out in one document. Styles and
// stylesheet links of every template are hoisted into the shared head; the body
// of each template follows the previous one after exactly one page break.
func BuildDocument(templates []string) (string, error) {
	var head, body strings.Builder
	for i, tpl := range templates {
		doc, err := html.Parse(strings.NewReader(tpl))
		if err != nil {
			return "", err
		}
		styles, content, err := splitTemplate(doc)
		if err != nil {
			return "", err
		}
		head.WriteString(styles)
		if i > 0 {
			body.WriteString("\n" + PageBreak + "\n")
		}
		body.WriteString(`<section class="template">`)
		body.WriteString(content)
		body.WriteString(`</section>`)
	}
	var out strings.Builder
	out.WriteString("<!doctype html>\n<html>\n<head>\n<meta charset=\"utf-8\"/>\n")
	out.WriteString(`<style>@page { size: A4; margin: 15mm; } html, body { margin: 0; padding: 0; -webkit-print-color-adjust: exact; print-color-adjust: exact; }</style>`)
	out.WriteString("\n")
	out.WriteString(head.String())
	out.WriteString("</head>\n<body>\n")
	out.WriteString(body.String())
	out.WriteString("\n</body>\n</html>\n")
	return out.String(), nil
}

func splitTemplate(doc *html.Node) (string, string, error) {
	var styles, content bytes.Buffer
	var bodyNode *html.Node
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Style:
				return html.Render(&styles, n)
			case n.DataAtom == atom.Link && isStylesheet(n):
				return html.Render(&styles, n)
			case n.DataAtom == atom.Body && bodyNode == nil:
				bodyNode = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc); err != nil {
		return "", "", err
	}
	if bodyNode != nil {
		for c := bodyNode.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Style {
				continue
			}
			if err := html.Render(&content, c); err != nil {
				return "", "", err
			}
		}
	}
	return styles.String(), content.String(), nil
}

func isStylesheet(n *html.Node) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "rel") && strings.EqualFold(strings.TrimSpace(a.Val), "stylesheet") {
			return true
		}
	}
	return false
}

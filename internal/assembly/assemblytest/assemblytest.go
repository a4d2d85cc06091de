// Package assemblytest provides in-memory stand-ins for the PDF toolkit and
// the HTML renderer.
package assemblytest

import (
	"context"
	"strings"
	"sync"

	"signline/internal/assembly"
)

// Doc builds a fake document: the PDF magic followed by one line per page.
func Doc(pages ...string) []byte {
	return []byte("%PDF\n" + strings.Join(pages, "\n"))
}

// Pages splits a fake document back into its page lines.
func Pages(doc []byte) []string {
	body := strings.TrimPrefix(string(doc), "%PDF\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

// Toolkit merges and stamps fake documents. Stamps prefix every page with
// "[text]".
type Toolkit struct {
	mu       sync.Mutex
	MergeErr error
	StampErr error
}

func (t *Toolkit) Merge(sources [][]byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.MergeErr != nil {
		return nil, t.MergeErr
	}
	var pages []string
	for _, src := range sources {
		pages = append(pages, Pages(src)...)
	}
	return Doc(pages...), nil
}

func (t *Toolkit) PageCount(doc []byte) (int, error) { return len(Pages(doc)), nil }

func (t *Toolkit) StampText(doc []byte, text string, _ assembly.HeaderStyle) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StampErr != nil {
		return nil, t.StampErr
	}
	pages := Pages(doc)
	for i := range pages {
		pages[i] = "[" + text + "]" + pages[i]
	}
	return Doc(pages...), nil
}

// Renderer records every call and returns one fake page per template.
type Renderer struct {
	mu    sync.Mutex
	Calls []string
	Err   error
}

func (r *Renderer) Render(_ context.Context, html string, _ assembly.PageLayout) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, html)
	if r.Err != nil {
		return nil, r.Err
	}
	n := strings.Count(html, assembly.PageBreak) + 1
	pages := make([]string, n)
	for i := range pages {
		pages[i] = "html"
	}
	return Doc(pages...), nil
}

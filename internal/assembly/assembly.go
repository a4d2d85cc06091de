// Package assembly merges page sources into one PDF and stamps provenance headers.
package assembly

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"signline/internal/domain"
)

var pdfMagic = []byte("%PDF")

// IsPDF reports whether b starts with the PDF magic signature.
func IsPDF(b []byte) bool {
	return bytes.HasPrefix(b, pdfMagic)
}

// DecodeBase64 decodes a base64 payload, tolerating a data URI prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

type Assembler struct {
	Toolkit  Toolkit
	Renderer Renderer
	Header   HeaderStyle
	Logger   *slog.Logger
}

func New(tk Toolkit, r Renderer, logger *slog.Logger) *Assembler {
	return &Assembler{Toolkit: tk, Renderer: r, Header: DefaultHeader, Logger: logger}
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// HeaderText is the label stamped on every page of an envelope artifact.
func HeaderText(envelopeID string) string {
	return "Envelope ID: " + envelopeID
}

// Merge concatenates every page of every source in order. A source without the
// PDF signature fails the whole merge.
func (a *Assembler) Merge(sources [][]byte) ([]byte, error) {
	if len(sources) == 0 {
		return nil, domain.AssemblyError{Op: "merge", Err: fmt.Errorf("no valid sources")}
	}
	for i, src := range sources {
		if !IsPDF(src) {
			return nil, domain.AssemblyError{Op: "merge", Err: fmt.Errorf("source %d is not a pdf", i)}
		}
	}
	if len(sources) == 1 {
		return append([]byte(nil), sources[0]...), nil
	}
	out, err := a.Toolkit.Merge(sources)
	if err != nil {
		return nil, domain.AssemblyError{Op: "merge", Err: err}
	}
	return out, nil
}

// StampHeader draws the envelope id band on every page. Stamping never fails:
// on error the unstamped document is returned.
func (a *Assembler) StampHeader(doc []byte, marker string) []byte {
	out, err := a.Toolkit.StampText(doc, HeaderText(marker), a.Header)
	if err != nil {
		a.logger().Warn("header stamp failed; using unstamped document", "envelope_id", marker, "error", err)
		return doc
	}
	return out
}

// Composite merges the sources and stamps the result with the marker.
func (a *Assembler) Composite(sources [][]byte, marker string) ([]byte, error) {
	merged, err := a.Merge(sources)
	if err != nil {
		return nil, err
	}
	return a.StampHeader(merged, marker), nil
}

// RenderHTML renders a single template without margins.
func (a *Assembler) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	return a.render(ctx, html, SingleTemplate)
}

// RenderTemplates renders one template as is, or several in one page-broken document.
func (a *Assembler) RenderTemplates(ctx context.Context, templates []string) ([]byte, error) {
	switch len(templates) {
	case 0:
		return nil, domain.AssemblyError{Op: "render", Err: fmt.Errorf("no templates")}
	case 1:
		return a.RenderHTML(ctx, templates[0])
	}
	doc, err := BuildDocument(templates)
	if err != nil {
		return nil, domain.AssemblyError{Op: "render", Err: err}
	}
	return a.render(ctx, doc, MultiTemplate)
}

func (a *Assembler) render(ctx context.Context, html string, layout PageLayout) ([]byte, error) {
	if a.Renderer == nil {
		return nil, domain.AssemblyError{Op: "render", Err: fmt.Errorf("no renderer configured")}
	}
	out, err := a.Renderer.Render(ctx, html, layout)
	if err != nil {
		return nil, domain.AssemblyError{Op: "render", Err: err}
	}
	if !IsPDF(out) {
		return nil, domain.AssemblyError{Op: "render", Err: fmt.Errorf("renderer returned non-pdf output")}
	}
	return out, nil
}

package assembly

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Toolkit is the low-level PDF byte manipulation the assembler relies on.
type Toolkit interface {
	Merge(sources [][]byte) ([]byte, error)
	PageCount(doc []byte) (int, error)
	StampText(doc []byte, text string, style HeaderStyle) ([]byte, error)
}

// HeaderStyle describes the provenance band drawn at the top-left of every page.
type HeaderStyle struct {
	FontName   string
	FontSize   int
	BandHeight int
	PaddingX   int
}

// DefaultHeader is a 9pt Helvetica label on a white band 22pt tall.
var DefaultHeader = HeaderStyle{FontName: "Helvetica", FontSize: 9, BandHeight: 22, PaddingX: 12}

func (s HeaderStyle) withDefaults() HeaderStyle {
	if s == (HeaderStyle{}) {
		return DefaultHeader
	}
	if s.FontName == "" {
		s.FontName = DefaultHeader.FontName
	}
	if s.FontSize <= 0 {
		s.FontSize = DefaultHeader.FontSize
	}
	if s.BandHeight < s.FontSize {
		s.BandHeight = s.FontSize + DefaultHeader.BandHeight - DefaultHeader.FontSize
	}
	return s
}

// description renders the style as a pdfcpu stamp description. The band is the
// text box plus margins, so its width always fits the rendered text.
func (s HeaderStyle) description() string {
	s = s.withDefaults()
	padY := (s.BandHeight - s.FontSize) / 2
	return fmt.Sprintf(
		"fontname:%s, points:%d, position:tl, offset:0 0, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:#000000, backgroundcolor:#FFFFFF, margins:%d %d",
		s.FontName, s.FontSize, padY, s.PaddingX)
}

// PDFCPU implements Toolkit with github.com/pdfcpu/pdfcpu.
type PDFCPU struct {
	Conf *model.Configuration
}

func NewPDFCPU() PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return PDFCPU{Conf: conf}
}

func (p PDFCPU) conf() *model.Configuration {
	if p.Conf != nil {
		return p.Conf
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (p PDFCPU) Merge(sources [][]byte) ([]byte, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("nothing to merge")
	}
	readers := make([]io.ReadSeeker, len(sources))
	for i, src := range sources {
		readers[i] = bytes.NewReader(src)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, p.conf()); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out.Bytes(), nil
}

func (p PDFCPU) PageCount(doc []byte) (int, error) {
	return api.PageCount(bytes.NewReader(doc), p.conf())
}

func (p PDFCPU) StampText(doc []byte, text string, style HeaderStyle) ([]byte, error) {
	wm, err := api.TextWatermark(text, style.description(), true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("stamp description: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(doc), &out, nil, wm, p.conf()); err != nil {
		return nil, fmt.Errorf("stamp: %w", err)
	}
	return out.Bytes(), nil
}

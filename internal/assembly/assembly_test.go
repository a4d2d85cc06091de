package assembly

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/assembly/pdftest"
	"signline/internal/domain"
)

// pageToolkit models documents as "%PDF" followed by one line per page.
type pageToolkit struct {
	stampErr error
	merges   int
}

func fakeDoc(pages ...string) []byte {
	return []byte("%PDF\n" + strings.Join(pages, "\n"))
}

func fakePages(doc []byte) []string {
	body := strings.TrimPrefix(string(doc), "%PDF\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

func (p *pageToolkit) Merge(sources [][]byte) ([]byte, error) {
	p.merges++
	var pages []string
	for _, src := range sources {
		pages = append(pages, fakePages(src)...)
	}
	return fakeDoc(pages...), nil
}

func (p *pageToolkit) PageCount(doc []byte) (int, error) { return len(fakePages(doc)), nil }

func (p *pageToolkit) StampText(doc []byte, text string, _ HeaderStyle) ([]byte, error) {
	if p.stampErr != nil {
		return nil, p.stampErr
	}
	pages := fakePages(doc)
	for i := range pages {
		pages[i] = "[" + text + "]" + pages[i]
	}
	return fakeDoc(pages...), nil
}

type fakeRenderer struct {
	html   []string
	layout []PageLayout
	out    []byte
	err    error
}

func (f *fakeRenderer) Render(_ context.Context, html string, layout PageLayout) ([]byte, error) {
	f.html = append(f.html, html)
	f.layout = append(f.layout, layout)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return fakeDoc("rendered"), nil
}

func TestCompositeStampsEveryPage(t *testing.T) {
	tk := &pageToolkit{}
	a := New(tk, nil, nil)
	out, err := a.Composite([][]byte{fakeDoc("a"), fakeDoc("b"), fakeDoc("c")}, "env-42")
	require.NoError(t, err)

	pages := fakePages(out)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, "[Envelope ID: env-42]"+[]string{"a", "b", "c"}[i], p)
	}
}

func TestMergeRejectsInvalidSources(t *testing.T) {
	a := New(&pageToolkit{}, nil, nil)
	_, err := a.Merge(nil)
	assert.True(t, errors.Is(err, domain.ErrAssembly))

	_, err = a.Merge([][]byte{fakeDoc("a"), []byte("GIF89a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAssembly))
	assert.Contains(t, err.Error(), "source 1")
}

func TestMergeSingleSourceSkipsToolkit(t *testing.T) {
	tk := &pageToolkit{}
	a := New(tk, nil, nil)
	out, err := a.Merge([][]byte{fakeDoc("only")})
	require.NoError(t, err)
	assert.Equal(t, fakeDoc("only"), out)
	assert.Zero(t, tk.merges)
}

func TestStampHeaderFallsBackToUnstamped(t *testing.T) {
	a := New(&pageToolkit{stampErr: errors.New("font missing")}, nil, nil)
	doc := fakeDoc("a")
	assert.Equal(t, doc, a.StampHeader(doc, "env-1"))
}

func TestStampHeaderTwiceIsAdditive(t *testing.T) {
	a := New(&pageToolkit{}, nil, nil)
	once := a.StampHeader(fakeDoc("a"), "env-1")
	twice := a.StampHeader(once, "env-1")
	assert.Equal(t, []string{"[Envelope ID: env-1][Envelope ID: env-1]a"}, fakePages(twice))
}

func TestRenderTemplatesLayouts(t *testing.T) {
	r := &fakeRenderer{}
	a := New(&pageToolkit{}, r, nil)

	_, err := a.RenderTemplates(context.Background(), []string{"<p>one</p>"})
	require.NoError(t, err)
	assert.Equal(t, SingleTemplate, r.layout[0])
	assert.Equal(t, "<p>one</p>", r.html[0])

	_, err = a.RenderTemplates(context.Background(), []string{"<p>one</p>", "<p>two</p>", "<p>three</p>"})
	require.NoError(t, err)
	assert.Equal(t, MultiTemplate, r.layout[1])
	assert.Equal(t, 2, strings.Count(r.html[1], PageBreak))
	assert.Less(t, strings.LastIndex(r.html[1], PageBreak), strings.Index(r.html[1], "three"), "no break after the last template")
}

func TestRenderRejectsNonPDFOutput(t *testing.T) {
	a := New(&pageToolkit{}, &fakeRenderer{out: []byte("<html>")}, nil)
	_, err := a.RenderHTML(context.Background(), "<p>x</p>")
	assert.True(t, errors.Is(err, domain.ErrAssembly))

	a = New(&pageToolkit{}, nil, nil)
	_, err = a.RenderHTML(context.Background(), "<p>x</p>")
	assert.True(t, errors.Is(err, domain.ErrAssembly))
}

func TestBuildDocumentHoistsStyles(t *testing.T) {
	doc, err := BuildDocument([]string{
		`<html><head><style>.a{color:red}</style><link rel="stylesheet" href="a.css"></head><body><p class="a">A</p></body></html>`,
		`<p>B</p>`,
	})
	require.NoError(t, err)
	head := doc[:strings.Index(doc, "<body>")]
	assert.Contains(t, head, ".a{color:red}")
	assert.Contains(t, head, `href="a.css"`)
	assert.Equal(t, 1, strings.Count(doc, PageBreak))
	assert.Less(t, strings.Index(doc, ">A</p>"), strings.Index(doc, PageBreak))
	assert.Greater(t, strings.Index(doc, ">B</p>"), strings.Index(doc, PageBreak))
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte("%PDF-1.4 body")
	enc := base64.StdEncoding.EncodeToString(raw)
	for _, in := range []string{enc, "data:application/pdf;base64," + enc, "  " + enc + "\n"} {
		out, err := DecodeBase64(in)
		require.NoError(t, err)
		assert.Equal(t, raw, out)
		assert.True(t, IsPDF(out))
	}
	_, err := DecodeBase64("not base64!!")
	assert.Error(t, err)
}

func TestPDFCPUMergeAndStamp(t *testing.T) {
	tk := NewPDFCPU()
	a := New(tk, nil, nil)
	out, err := a.Composite([][]byte{pdftest.Pages(1), pdftest.Pages(1), pdftest.Pages(1)}, "env-pdfcpu")
	require.NoError(t, err)
	require.True(t, IsPDF(out))

	n, err := tk.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stamped, err := tk.StampText(pdftest.Pages(2), HeaderText("env-pdfcpu"), DefaultHeader)
	require.NoError(t, err)
	assert.NotEqual(t, pdftest.Pages(2), stamped)
	n, err = tk.PageCount(stamped)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGotenbergRequest(t *testing.T) {
	var gotPath string
	fields := map[string]string{}
	var gotHTML string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) {
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if !assert.NoError(t, err) {
				return
			}
			data, _ := io.ReadAll(part)
			if part.FileName() != "" {
				gotHTML = string(data)
				continue
			}
			fields[part.FormName()] = string(data)
		}
		w.Write(pdftest.Pages(1))
	}))
	defer srv.Close()

	g := NewGotenberg(srv.URL+"/", 0)
	out, err := g.Render(context.Background(), "<p>hello</p>", MultiTemplate)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Equal(t, "/forms/chromium/convert/html", gotPath)
	assert.Equal(t, "<p>hello</p>", gotHTML)
	assert.Equal(t, "15mm", fields["marginTop"])
	assert.Equal(t, "8.27", fields["paperWidth"])
	assert.Equal(t, "true", fields["printBackground"])
}

func TestGotenbergErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := NewGotenberg(srv.URL, 0).Render(context.Background(), "<p/>", SingleTemplate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

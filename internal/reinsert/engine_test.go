package reinsert

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
)

const page = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>T</title></head>
<body>
<h1>Title</h1>
<p>First <em>para</em>.</p>
<p><img src="a.png" alt="Picture"/></p>
<ul><li>One</li><li>Two</li></ul>
</body>
</html>`

func parse(t *testing.T) (*walker.Walker, *segment.Model) {
	t.Helper()
	w := walker.New(walker.DefaultOptions(), zap.NewNop())
	m, err := w.Parse("page.xhtml", []byte(page))
	require.NoError(t, err)
	return w, m
}

func translateAll(t *testing.T, m *segment.Model, except ...string) {
	t.Helper()
	skip := map[string]bool{}
	for _, s := range except {
		skip[s] = true
	}
	for _, u := range m.Units() {
		if skip[u.Core()] {
			m.Fail(u.ID, errors.New("missing"))
			continue
		}
		require.NoError(t, m.Apply(u.ID, "<"+u.Core()+">"))
	}
}

func TestReinsertTranslated(t *testing.T) {
	w, m := parse(t)
	translateAll(t, m)

	res, err := New(w, zap.NewNop()).Reinsert(m)
	require.NoError(t, err)

	out := string(res.Output)
	assert.Contains(t, out, "<h1>&lt;Title&gt;</h1>")
	assert.Contains(t, out, `alt="&lt;Picture&gt;"`)
	assert.Contains(t, out, "<title>T</title>")

	r := res.Report
	assert.True(t, r.Passed)
	assert.Equal(t, 7, r.Units)
	assert.Equal(t, 6, r.Translated)
	assert.Equal(t, 1, r.AttributesTranslated)
	assert.Zero(t, r.Fallback)
	assert.Empty(t, r.UnchangedBlocks)
}

func TestReinsertPartialFallback(t *testing.T) {
	w, m := parse(t)
	translateAll(t, m, "Two", "Title")

	res, err := New(w, zap.NewNop()).Reinsert(m)
	require.NoError(t, err)

	out := string(res.Output)
	assert.Contains(t, out, "<li>&lt;One&gt;</li><li>Two</li>")
	assert.Contains(t, out, "<h1>Title</h1>")

	r := res.Report
	assert.Equal(t, 2, r.Fallback)
	require.Len(t, r.UnchangedBlocks, 2)
	assert.Equal(t, "h1", r.UnchangedBlocks[0].Tag)
	assert.Equal(t, "li", r.UnchangedBlocks[1].Tag)
}

func TestReinsertUntranslatedIsIdentical(t *testing.T) {
	w, m := parse(t)
	m.FailRemaining(errors.New("offline"))

	res, err := New(w, zap.NewNop()).Reinsert(m)
	require.NoError(t, err)
	assert.Equal(t, page, string(res.Output))
	assert.Len(t, res.Report.UnchangedBlocks, 4)
}

func TestReportCountsBlankUnitsSeparately(t *testing.T) {
	w := walker.New(walker.DefaultOptions(), zap.NewNop())
	m, err := w.Parse("blank.xhtml", []byte(`<html><body><p>Hello</p><p> </p></body></html>`))
	require.NoError(t, err)
	require.Len(t, m.Units(), 2)
	m.FailRemaining(errors.New("offline"))

	r := Report(m)
	assert.Equal(t, 1, r.Units)
	assert.Equal(t, 1, r.Blank)
	assert.Equal(t, 1, r.Fallback)
	assert.Zero(t, r.Translated)
}

func TestReinsertIntegrityMismatch(t *testing.T) {
	w, m := parse(t)
	translateAll(t, m)

	e := New(w, zap.NewNop())
	e.serialize = func(m *segment.Model) []byte {
		out := w.Serialize(m)
		return bytes.Replace(out, []byte("<em>"), []byte("<em><b>"), 1)
	}

	res, err := e.Reinsert(m)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "page.xhtml", ierr.Path)
	assert.Contains(t, ierr.Error(), "integrity check failed")
	assert.Equal(t, page, string(res.Output), "source is kept on mismatch")
	assert.False(t, res.Report.Passed)
	assert.NotEmpty(t, res.Report.Detail)
}

func TestReinsertMalformedOutput(t *testing.T) {
	w, m := parse(t)
	e := New(w, nil, WithCensus(false))
	e.serialize = func(m *segment.Model) []byte {
		return bytes.Replace(w.Serialize(m), []byte("</ul>"), nil, 1)
	}

	res, err := e.Reinsert(m)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, page, string(res.Output))
}

func TestDiffCensus(t *testing.T) {
	assert.Empty(t, diffCensus(map[string]int{"p": 2}, map[string]int{"p": 2}))
	assert.Equal(t, "element count changed: <b> 0->1, <p> 2->1",
		diffCensus(map[string]int{"p": 2}, map[string]int{"p": 1, "b": 1}))
}

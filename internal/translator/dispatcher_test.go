package translator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

func parseDocs(t *testing.T, srcs ...string) []*segment.Model {
	t.Helper()
	w := walker.New(walker.DefaultOptions(), zap.NewNop())
	var docs []*segment.Model
	for i, src := range srcs {
		m, err := w.Parse("doc.xhtml", []byte(src))
		require.NoError(t, err)
		m.Index = i
		docs = append(docs, m)
	}
	return docs
}

func TestDispatcherRequeueShrinksBatches(t *testing.T) {
	backend := &fakeBackend{reply: func(call int, req *providers.Request) (*providers.Response, error) {
		if call == 1 {
			return &providers.Response{}, nil
		}
		return echo(req, nil), nil
	}}
	docs := parseDocs(t, `<ul><li>A</li><li>B</li><li>C</li><li>D</li></ul>`)
	sched, err := scheduler.New(scheduler.Limits{MaxChars: 100, MaxUnits: 4}, zap.NewNop())
	require.NoError(t, err)
	client := newTestClient(t, backend, 1, 100)

	d := NewDispatcher(client, sched, docs, zap.NewNop(), WithUnitRetries(2))
	require.NoError(t, d.Run(context.Background(), sched.Plan(docs)))

	require.Equal(t, 3, backend.calls())
	assert.Len(t, backend.request(0).Items, 4)
	assert.Len(t, backend.request(1).Items, 2)
	assert.Len(t, backend.request(2).Items, 2)

	c := docs[0].Counts()
	assert.Equal(t, 4, c.Translated)
	assert.Zero(t, c.Pending+c.InBatch+c.Failed)
}

func TestDispatcherDocumentDoneOnce(t *testing.T) {
	docs := parseDocs(t,
		`<p>One</p><p>Two</p>`,
		`<p>Three</p>`,
		`<div><br/></div>`,
	)
	sched, err := scheduler.New(scheduler.Limits{MaxChars: 100, MaxUnits: 1}, zap.NewNop())
	require.NoError(t, err)
	client := newTestClient(t, &fakeBackend{}, 4, 100)

	var (
		mu   sync.Mutex
		done = make(map[int]int)
	)
	var merged []string
	d := NewDispatcher(client, sched, docs, zap.NewNop(),
		OnTranslated(func(_ *segment.Model, u *segment.Unit) {
			mu.Lock()
			merged = append(merged, u.Translation)
			mu.Unlock()
		}),
		OnDocumentDone(func(m *segment.Model) {
			mu.Lock()
			done[m.Index]++
			mu.Unlock()
		}),
	)
	require.NoError(t, d.Run(context.Background(), sched.Plan(docs)))

	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, done)
	assert.ElementsMatch(t, []string{"[zh]One", "[zh]Two", "[zh]Three"}, merged)
}

func TestDispatcherFailedBatchReportsUnits(t *testing.T) {
	backend := &fakeBackend{reply: func(int, *providers.Request) (*providers.Response, error) {
		return nil, &providers.BackendError{Kind: providers.KindPermanent, Code: providers.CodeBadRequest, Message: "rejected"}
	}}
	docs := parseDocs(t, `<p>One</p><p>Two</p>`)
	sched, err := scheduler.New(scheduler.Limits{MaxChars: 100, MaxUnits: 10}, zap.NewNop())
	require.NoError(t, err)
	client := newTestClient(t, backend, 1, 100)
	rec := &progress.Recorder{}

	d := NewDispatcher(client, sched, docs, zap.NewNop(), WithDispatchReporter(rec))
	require.NoError(t, d.Run(context.Background(), sched.Plan(docs)))

	c := docs[0].Counts()
	assert.Equal(t, 2, c.Failed)
	for _, u := range docs[0].Units() {
		var be *providers.BackendError
		assert.ErrorAs(t, u.Err, &be)
	}

	var failed int
	for _, e := range rec.Events() {
		if e.Kind == progress.EventUnitsFailed {
			failed += e.Units
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, rec.Count(progress.EventBatchFinished))
}

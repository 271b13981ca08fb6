package ingest_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deptbot/internal/mock"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/docstore"
	"github.com/xhad/deptbot/pkg/ingest"
	"github.com/xhad/deptbot/pkg/partition"
	"github.com/xhad/deptbot/pkg/retriever"
	"github.com/xhad/deptbot/pkg/scraper"
	"github.com/xhad/deptbot/pkg/store"
	"github.com/xhad/deptbot/pkg/summarizer"
)

type fakePartitioner struct {
	elements []models.Element
	err      error
	calls    int
	got      string
}

func (f *fakePartitioner) Partition(ctx context.Context, filename string, r io.Reader) ([]models.Element, error) {
	f.calls++
	data, _ := io.ReadAll(r)
	f.got = string(data)
	return f.elements, f.err
}

type env struct {
	pipeline    *ingest.Pipeline
	partitioner *fakePartitioner
	docstore    *docstore.Store
	vectors     *store.Memory
	uploadDir   string
	events      []ingest.Progress
}

func summarize(prompt string) (string, error) {
	i := strings.LastIndex(prompt, " : ")
	return "ringkasan " + strings.TrimSpace(prompt[i+3:]), nil
}

func scraperDefaults() scraper.ScraperConfig {
	return scraper.ScraperConfig{MaxDepth: 1, RateLimit: 100}
}

func newEnv(t *testing.T, elements ...models.Element) *env {
	t.Helper()

	ds, err := docstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	sum, err := summarizer.New(&mock.Model{Respond: summarize})
	require.NoError(t, err)
	t.Cleanup(sum.Release)

	e := &env{
		partitioner: &fakePartitioner{elements: elements},
		docstore:    ds,
		vectors:     store.NewMemory(mock.NewEmbedder(256), 0),
		uploadDir:   filepath.Join(t.TempDir(), "pdfFiles"),
	}
	e.pipeline, err = ingest.New(ingest.Config{
		UploadDir:  e.uploadDir,
		OnProgress: func(p ingest.Progress) { e.events = append(e.events, p) },
		Scraper:    scraperDefaults(),
	}, e.partitioner, sum, ds, e.vectors)
	require.NoError(t, err)
	return e
}

func sampleElements() []models.Element {
	return []models.Element{
		{Type: models.ElementText, Content: "Jurusan Teknik Elektro berdiri sejak 1990.", Page: 1},
		{Type: models.ElementTable, Content: "<table><tr><td>Warindi</td><td>Ketua</td></tr></table>", Page: 2},
		{Type: models.ElementText, Content: "Laboratorium berada di gedung B.", Page: 3},
	}
}

func TestIngestFile(t *testing.T) {
	e := newEnv(t, sampleElements()...)
	ctx := context.Background()

	report, err := e.pipeline.IngestFile(ctx, "profil.pdf", strings.NewReader("%PDF-1.4 isi"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Tables)
	assert.Equal(t, 2, report.Texts)
	require.Len(t, report.DocIDs, 3)
	assert.Equal(t, "%PDF-1.4 isi", e.partitioner.got)

	saved, err := os.ReadFile(filepath.Join(e.uploadDir, "profil.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 isi", string(saved))

	// Tables are summarized and stored first.
	originals, err := e.docstore.MGet(ctx, report.DocIDs)
	require.NoError(t, err)
	require.NotNil(t, originals[0])
	assert.Equal(t, "<table><tr><td>Warindi</td><td>Ketua</td></tr></table>", originals[0].Content)
	assert.Equal(t, models.ElementTable, originals[0].Metadata["type"])
	assert.Equal(t, "profil.pdf", originals[0].Metadata["source"])
	assert.Equal(t, float64(2), originals[0].Metadata["page"])
	assert.Equal(t, report.DocIDs[0], originals[0].Metadata[models.IDKey])

	rows, err := e.vectors.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ringkasan <table><tr><td>Warindi</td><td>Ketua</td></tr></table>", rows[0].Content)
	assert.Equal(t, report.DocIDs[0], rows[0].Metadata[models.IDKey])
	assert.NotContains(t, rows[0].Metadata, "page")
	assert.NotEqual(t, report.DocIDs[0], rows[0].ID, "row id and doc_id are distinct")

	var stages []ingest.Stage
	for _, ev := range e.events {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []ingest.Stage{
		ingest.StageSaving,
		ingest.StagePartitioning,
		ingest.StageSummarizingTable,
		ingest.StageSummarizingText,
		ingest.StageStoring,
		ingest.StageDone,
	}, stages)
}

func TestIngestedDocumentsAreRetrievable(t *testing.T) {
	e := newEnv(t, sampleElements()...)
	ctx := context.Background()

	_, err := e.pipeline.IngestFile(ctx, "profil.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)

	r := retriever.NewMultiVector(e.vectors, e.docstore)
	r.K = 1
	docs, err := r.Retrieve(ctx, "laboratorium gedung")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Laboratorium berada di gedung B.", docs[0].Content)
}

func TestIngestFileAlreadyIngested(t *testing.T) {
	e := newEnv(t, sampleElements()...)
	ctx := context.Background()

	_, err := e.pipeline.IngestFile(ctx, "profil.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)
	assert.True(t, e.pipeline.Exists("profil.pdf"))

	_, err = e.pipeline.IngestFile(ctx, "profil.pdf", strings.NewReader("pdf"))
	assert.ErrorIs(t, err, ingest.ErrAlreadyIngested)
	assert.Equal(t, 1, e.partitioner.calls)

	n, err := e.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngestFileRejectsNonPDF(t *testing.T) {
	e := newEnv(t, sampleElements()...)

	for _, name := range []string{"catatan.txt", "", "pdf"} {
		_, err := e.pipeline.IngestFile(context.Background(), name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ingest.ErrNotPDF, name)
	}
	assert.Zero(t, e.partitioner.calls)

	// Extension match is case-insensitive and path components are dropped.
	_, err := e.pipeline.IngestFile(context.Background(), "../../PROFIL.PDF", strings.NewReader("x"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(e.uploadDir, "PROFIL.PDF"))
}

func TestIngestFilePartitionFailureAllowsRetry(t *testing.T) {
	e := newEnv(t)
	e.partitioner.err = partition.ErrNoElements

	_, err := e.pipeline.IngestFile(context.Background(), "kosong.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, partition.ErrNoElements)
	assert.False(t, e.pipeline.Exists("kosong.pdf"))

	e.partitioner.err = nil
	e.partitioner.elements = sampleElements()
	_, err = e.pipeline.IngestFile(context.Background(), "kosong.pdf", strings.NewReader("x"))
	assert.NoError(t, err)
}

func TestIngestElementsSummaryFailure(t *testing.T) {
	ds, err := docstore.Open("", true)
	require.NoError(t, err)
	defer ds.Close()

	model := mock.NewModel()
	model.Err = errors.New("rate limit")
	sum, err := summarizer.New(model)
	require.NoError(t, err)
	defer sum.Release()

	vs := store.NewMemory(mock.NewEmbedder(16), 0)
	p, err := ingest.New(ingest.Config{UploadDir: t.TempDir()}, &fakePartitioner{}, sum, ds, vs)
	require.NoError(t, err)

	_, err = p.IngestElements(context.Background(), "x.pdf", sampleElements())
	assert.ErrorContains(t, err, "rate limit")

	keys, err := ds.YieldKeys(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIngestElementsIndexFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	emb := mock.NewEmbedder(16)
	emb.Err = errors.New("embedding service down")

	sum, err := summarizer.New(&mock.Model{Respond: summarize})
	require.NoError(t, err)
	defer sum.Release()

	p, err := ingest.New(ingest.Config{UploadDir: t.TempDir()}, e.partitioner, sum, e.docstore, store.NewMemory(emb, 0))
	require.NoError(t, err)

	_, err = p.IngestElements(context.Background(), "x.pdf", sampleElements())
	assert.ErrorContains(t, err, "embedding service down")

	keys, err := e.docstore.YieldKeys(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIngestURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><main>
<p>Pendaftaran mahasiswa baru dibuka bulan Juni.</p>
<table><tr><td>Jalur</td><td>SNBP</td></tr></table>
</main></body></html>`))
	}))
	defer srv.Close()

	e := newEnv(t)
	report, err := e.pipeline.IngestURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tables)
	assert.Equal(t, 1, report.Texts)

	originals, err := e.docstore.MGet(context.Background(), report.DocIDs)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, originals[0].Metadata["source"])
	assert.Contains(t, originals[1].Content, "Pendaftaran mahasiswa baru")
}

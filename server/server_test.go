package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deptbot/internal/mock"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/docstore"
	"github.com/xhad/deptbot/pkg/ingest"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/rag"
	"github.com/xhad/deptbot/pkg/retriever"
	"github.com/xhad/deptbot/pkg/store"
	"github.com/xhad/deptbot/pkg/summarizer"
	"github.com/xhad/deptbot/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const answer = "Ketua jurusan adalah Dr. Warindi."

type fakePartitioner struct {
	calls atomic.Int32
}

func (f *fakePartitioner) Partition(ctx context.Context, filename string, r io.Reader) ([]models.Element, error) {
	f.calls.Add(1)
	return []models.Element{
		{Type: models.ElementText, Content: "Sekretaris jurusan adalah Bu Rini.", Page: 1},
	}, nil
}

type env struct {
	handler   http.Handler
	model     *mock.Model
	vectors   *store.Memory
	parts     *fakePartitioner
	uploadDir string
}

func newEnv(t *testing.T, seed bool) *env {
	t.Helper()
	ctx := context.Background()

	ds, err := docstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	vs := store.NewMemory(mock.NewEmbedder(256), 0)
	if seed {
		require.NoError(t, ds.MSet(ctx, []models.Document{
			{ID: "d1", Content: "<table><tr><td>Ketua Jurusan</td><td>Dr. Warindi</td></tr></table>",
				Metadata: map[string]interface{}{models.IDKey: "d1", "type": models.ElementTable}},
		}))
		_, err = vs.AddDocuments(ctx, []models.Document{
			{Content: "Ketua jurusan adalah Dr. Warindi", Metadata: map[string]interface{}{models.IDKey: "d1"}},
		})
		require.NoError(t, err)
	}

	model := mock.NewModel(answer)
	engine, err := llm.NewWithConfig(model, llm.ChatConfig{})
	require.NoError(t, err)

	r := retriever.NewMultiVector(vs, ds)
	chain, err := rag.NewChain(r, engine)
	require.NoError(t, err)
	prober, err := rag.NewProber(r, model)
	require.NoError(t, err)

	sum, err := summarizer.New(&mock.Model{Respond: func(string) (string, error) {
		return "ringkasan sekretaris jurusan", nil
	}})
	require.NoError(t, err)
	t.Cleanup(sum.Release)

	parts := &fakePartitioner{}
	uploadDir := t.TempDir()
	pipeline, err := ingest.New(ingest.Config{UploadDir: uploadDir}, parts, sum, ds, vs)
	require.NoError(t, err)

	srv, err := server.New(server.Config{Typing: rag.Typewriter{Mode: rag.TypeWord}}, server.Dependencies{
		Chain:    chain,
		Prober:   prober,
		Pipeline: pipeline,
		Vectors:  vs,
	})
	require.NoError(t, err)

	return &env{handler: srv.Handler(), model: model, vectors: vs, parts: parts, uploadDir: uploadDir}
}

func (e *env) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := server.New(server.Config{}, server.Dependencies{})
	assert.Error(t, err)
}

func TestIndexAndHealth(t *testing.T) {
	e := newEnv(t, true)

	w := e.do(t, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Teknik Elektro")

	w = e.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["documents"])
}

func TestDocumentsCRUD(t *testing.T) {
	e := newEnv(t, true)

	w := e.do(t, http.MethodGet, "/api/documents", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []models.StoredDocument `json:"documents"`
		Count     int                     `json:"count"`
	}
	decode(t, w, &list)
	require.Equal(t, 1, list.Count)
	id := list.Documents[0].ID

	w = e.do(t, http.MethodPut, "/api/documents/"+id,
		strings.NewReader(`{"content":"Ketua jurusan: Dr. Warindi, S.T.","doc_id":"d1"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rows, err := e.vectors.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ketua jurusan: Dr. Warindi, S.T.", rows[0].Content)
	assert.Equal(t, "d1", rows[0].Metadata[models.IDKey])

	w = e.do(t, http.MethodPut, "/api/documents/"+id, strings.NewReader(`{"content":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/api/documents/missing", strings.NewReader(`{"content":"x"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var apiErr server.ErrorResponse
	decode(t, w, &apiErr)
	assert.Equal(t, "not_found", apiErr.ErrorCode)

	w = e.do(t, http.MethodDelete, "/api/documents/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	n, err := e.vectors.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func upload(t *testing.T, e *env, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/documents/upload", &body, mw.FormDataContentType())
}

func TestUpload(t *testing.T) {
	e := newEnv(t, false)

	w := upload(t, e, "profil.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var report ingest.Report
	decode(t, w, &report)
	assert.Equal(t, "profil.pdf", report.Source)
	assert.Equal(t, 1, report.Texts)

	w = upload(t, e, "profil.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.EqualValues(t, 1, e.parts.calls.Load())

	w = upload(t, e, "catatan.txt", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var apiErr server.ErrorResponse
	decode(t, w, &apiErr)
	assert.Equal(t, "invalid_file_type", apiErr.ErrorCode)

	w = e.do(t, http.MethodPost, "/api/documents/upload", strings.NewReader(""), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadConflictSkipsIngest(t *testing.T) {
	e := newEnv(t, false)
	// A file left by an earlier run marks the name as taken.
	require.NoError(t, os.WriteFile(filepath.Join(e.uploadDir, "jadwal.pdf"), []byte("%PDF-1.4"), 0644))

	w := upload(t, e, "jadwal.pdf", []byte("%PDF-1.4 baru"))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var apiErr server.ErrorResponse
	decode(t, w, &apiErr)
	assert.Equal(t, "already_ingested", apiErr.ErrorCode)
	assert.Zero(t, e.parts.calls.Load())

	n, err := e.vectors.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAsk(t *testing.T) {
	e := newEnv(t, true)

	w := e.do(t, http.MethodPost, "/api/ask", strings.NewReader(`{"question":"Ketua jurusan ?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Question string            `json:"question"`
		Answer   string            `json:"answer"`
		Context  []models.Document `json:"context"`
		Found    bool              `json:"found"`
	}
	decode(t, w, &res)
	assert.True(t, res.Found)
	assert.Equal(t, answer, res.Answer)
	require.Len(t, res.Context, 1)
	assert.Contains(t, res.Context[0].Content, "<table>")

	w = e.do(t, http.MethodPost, "/api/ask", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskWithoutContext(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(t, http.MethodPost, "/api/ask", strings.NewReader(`{"question":"Sekjur ?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	var res map[string]interface{}
	decode(t, w, &res)
	assert.Equal(t, false, res["found"])
	assert.Equal(t, "", res["answer"])
	assert.Empty(t, e.model.Requests())
}

func dial(t *testing.T, e *env) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(e.handler)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// turn sends a chat message and collects replies up to done or error.
func turn(t *testing.T, conn *websocket.Conn, content string) []server.Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MsgChat, Content: content}))
	return readUntilEnd(t, conn)
}

func readUntilEnd(t *testing.T, conn *websocket.Conn) []server.Message {
	t.Helper()
	var out []server.Message
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		out = append(out, msg)
		if msg.Type == server.MsgDone || msg.Type == server.MsgError {
			return out
		}
	}
}

func TestWebSocketChat(t *testing.T) {
	e := newEnv(t, true)
	conn := dial(t, e)

	msgs := turn(t, conn, "Siapa ketua jurusan?")
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, server.MsgStatus, msgs[0].Type)
	assert.Equal(t, server.MsgContext, msgs[1].Type)
	assert.Len(t, msgs[1].Data, 1)

	var streamed strings.Builder
	for _, m := range msgs[2 : len(msgs)-1] {
		assert.Equal(t, server.MsgStream, m.Type)
		streamed.WriteString(m.Content)
	}
	assert.Equal(t, answer, streamed.String())

	done := msgs[len(msgs)-1]
	assert.Equal(t, server.MsgDone, done.Type)
	assert.Equal(t, answer, done.Content)

	// The second turn carries the first as history.
	turn(t, conn, "Lalu sekjur?")
	requests := e.model.Requests()
	require.Len(t, requests, 2)
	assert.NotContains(t, mock.Flatten(requests[0]), "Lalu sekjur?")
	assert.Contains(t, mock.Flatten(requests[1]), "Siapa ketua jurusan?")

	// Reset clears the session.
	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MsgReset}))
	var ack server.Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, server.MsgStatus, ack.Type)

	turn(t, conn, "Lagi?")
	requests = e.model.Requests()
	require.Len(t, requests, 3)
	assert.NotContains(t, mock.Flatten(requests[2]), "Siapa ketua jurusan?")
}

func TestWebSocketStreamKeepsLayout(t *testing.T) {
	e := newEnv(t, true)
	table := "Ketua jurusan:\n| Nama | Ketua |\n| Warindi | ya |"
	e.model.Responses = []string{table}
	conn := dial(t, e)

	msgs := turn(t, conn, "Tampilkan tabel ketua")
	var streamed strings.Builder
	for _, m := range msgs {
		if m.Type == server.MsgStream {
			assert.NotEmpty(t, strings.TrimSpace(m.Content), "whitespace rides along with a word")
			streamed.WriteString(m.Content)
		}
	}
	assert.Equal(t, table, streamed.String())
	assert.Equal(t, table, msgs[len(msgs)-1].Content)
}

func TestWebSocketRejectsBadMessages(t *testing.T) {
	e := newEnv(t, true)
	conn := dial(t, e)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msgs := readUntilEnd(t, conn)
	assert.Equal(t, server.MsgError, msgs[len(msgs)-1].Type)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "dance"}))
	msgs = readUntilEnd(t, conn)
	assert.Contains(t, msgs[len(msgs)-1].Content, "unknown message type")

	msgs = turn(t, conn, "   ")
	assert.Equal(t, server.MsgError, msgs[len(msgs)-1].Type)
	assert.Empty(t, e.model.Requests())
}

func TestWebSocketReportsModelFailure(t *testing.T) {
	e := newEnv(t, true)
	e.model.Err = llm.ErrUnavailable
	conn := dial(t, e)

	msgs := turn(t, conn, "Siapa ketua jurusan?")
	last := msgs[len(msgs)-1]
	assert.Equal(t, server.MsgError, last.Type)
	assert.Contains(t, last.Content, "tidak tersedia")
}

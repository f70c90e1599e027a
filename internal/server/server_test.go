package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/executor"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/logging"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = "Region,Revenue\nWest,50\nEast,200\nWest,150\nNorth,300\n"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{
		NewSession: func() *session.Session {
			return session.New(intent.NewResolver(nil), executor.New(), state.NewManager())
		},
		Ingest:      ingest.DefaultOptions(),
		PreviewRows: 10,
		Logger:      logging.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createSession(t *testing.T, base string) string {
	t.Helper()
	var view session.View
	status := doJSON(t, http.MethodPost, base+"/sessions", map[string]string{"csv": salesCSV, "name": "sales.csv"}, &view)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, view.ID, 8)
	return view.ID
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + id

	var view session.View
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base, nil, &view))
	assert.Equal(t, 4, view.Summary.Rows)
	assert.Equal(t, "sales.csv", view.Summary.Filename)
	require.NotNil(t, view.Schema)
	assert.Equal(t, 2, view.Schema.ColumnCount)

	var cmd struct {
		Plan    intent.OperationPlan `json:"plan"`
		Success bool                 `json:"success"`
		Applied bool                 `json:"applied"`
		Preview []map[string]any     `json:"preview"`
		Summary state.Summary        `json:"summary"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/commands", map[string]string{"command": "top 2 revenue"}, &cmd))
	assert.True(t, cmd.Success)
	assert.True(t, cmd.Applied)
	assert.Equal(t, intent.KindRanking, cmd.Plan.Kind)
	require.Len(t, cmd.Preview, 2)
	assert.Equal(t, 300.0, cmd.Preview[0]["Revenue"])
	assert.True(t, cmd.Summary.CanUndo)

	var step struct {
		OK      bool          `json:"ok"`
		Summary state.Summary `json:"summary"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/undo", nil, &step))
	assert.True(t, step.OK)
	assert.Equal(t, 4, step.Summary.Rows)
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/redo", nil, &step))
	assert.True(t, step.OK)
	assert.Equal(t, 2, step.Summary.Rows)
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/redo", nil, &step))
	assert.False(t, step.OK)

	var logs struct {
		Operations []state.LogEntry     `json:"operations"`
		Messages   []state.AgentMessage `json:"messages"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/log?limit=2", nil, &logs))
	require.Len(t, logs.Operations, 2)
	assert.Equal(t, state.LogRedo, logs.Operations[1].Type)
	assert.NotEmpty(t, logs.Messages)

	var data struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Total   int              `json:"total"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/data?limit=1", nil, &data))
	assert.Equal(t, []string{"Region", "Revenue"}, data.Columns)
	assert.Len(t, data.Rows, 1)
	assert.Equal(t, 2, data.Total)

	assert.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, base, nil, nil))
	assert.Equal(t, 0, srv.Store().Len())
	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, base, nil, &errBody))
	assert.Equal(t, "session not found", errBody["error"])
}

func TestCommandFailureIsReported(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/sessions/" + createSession(t, ts.URL)
	var out map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/commands", map[string]string{"command": "top 3 region"}, &out))
	assert.Equal(t, false, out["success"])
	assert.NotEmpty(t, out["error"])
	assert.Nil(t, out["preview"])

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, base+"/commands", map[string]string{"command": " "}, &errBody))
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t)
	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]string{}, &errBody))
	assert.Contains(t, errBody["error"], "csv")
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, ts.URL+"/sessions/nope/undo", nil, &errBody))
}

func TestMultipartUpload(t *testing.T) {
	srv, ts := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sales.tsv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(strings.ReplaceAll(salesCSV, ",", "\t")))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/sessions", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view session.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 4, view.Summary.Rows)
	assert.Equal(t, "sales.tsv", view.Summary.Filename)

	var list struct {
		Sessions []string `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/sessions", nil, &list))
	assert.Equal(t, []string{view.ID}, list.Sessions)
	assert.Equal(t, 1, srv.Store().Len())
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

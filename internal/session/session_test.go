package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/executor"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesData() *dataset.Dataset {
	return dataset.MustNew(
		dataset.NewColumn("Region", []dataset.Value{dataset.String("West"), dataset.String("East"), dataset.String("West"), dataset.String("North")}),
		dataset.NewColumn("Revenue", []dataset.Value{dataset.Number(50), dataset.Number(200), dataset.Number(150), dataset.Number(300)}),
	)
}

func newSession(t *testing.T, opts ...state.Option) *Session {
	t.Helper()
	s := New(intent.NewResolver(nil), executor.New(), state.NewManager(opts...))
	require.NoError(t, s.Load(salesData(), "sales.csv"))
	return s
}

func TestRunAppliesAndUndoes(t *testing.T) {
	s := newSession(t)
	out, err := s.Run(context.Background(), "top 2 revenue")
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.True(t, out.Applied)
	assert.Equal(t, intent.KindRanking, out.Plan.Kind)
	assert.Equal(t, 2, s.Dataset().NumRows())

	view := s.Snapshot()
	assert.True(t, view.Summary.CanUndo)
	require.NotNil(t, view.Schema)
	assert.Equal(t, 2, view.Schema.RowCount)

	require.True(t, s.Undo())
	assert.Equal(t, 4, s.Dataset().NumRows())
	assert.Equal(t, 4, s.Schema().RowCount)
	require.True(t, s.Redo())
	assert.Equal(t, 2, s.Dataset().NumRows())
	assert.False(t, s.Redo())

	log := s.Log(0)
	assert.Equal(t, state.LogRedo, log[len(log)-1].Type)
	msgs := s.AgentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "resolver", msgs[1].From)
	assert.Equal(t, "executor", msgs[1].To)
}

func TestRunLogTypes(t *testing.T) {
	s := newSession(t)
	_, err := s.Run(context.Background(), "clean the data")
	require.NoError(t, err)
	log := s.Log(1)
	assert.Equal(t, state.LogClean, log[0].Type)

	_, err = s.Run(context.Background(), "find anomalies")
	require.NoError(t, err)
	log = s.Log(1)
	assert.Equal(t, state.LogAnalytics, log[0].Type)
	assert.True(t, log[0].Success)
}

func TestRunFailureLeavesDataset(t *testing.T) {
	s := newSession(t)
	before := s.Dataset()
	out, err := s.Run(context.Background(), "top 3 region")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.False(t, out.Applied)
	var tm *executor.TypeMismatchError
	assert.True(t, errors.As(out.Err, &tm))
	assert.NotEmpty(t, out.Error)
	assert.Same(t, before, s.Dataset())
	assert.False(t, s.Snapshot().Summary.CanUndo)

	log := s.Log(1)
	assert.False(t, log[0].Success)
	assert.Contains(t, log[0].Error, "Region")
}

func TestRunRecordsArtifacts(t *testing.T) {
	s := newSession(t)
	out, err := s.Run(context.Background(), "plot revenue by region")
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.False(t, out.Applied)
	require.NotNil(t, out.Artifact)
	require.NotNil(t, out.Artifact.Chart)

	view := s.Snapshot()
	assert.Len(t, view.Charts, 1)
	assert.Equal(t, 0, view.Summary.HistoryDepth)
	assert.Equal(t, state.LogVisualization, s.Log(1)[0].Type)
}

type panicExecutor struct{}

func (panicExecutor) Execute(intent.OperationPlan, *dataset.Dataset) executor.Result {
	panic("exploded")
}

func TestRunRecoversPanics(t *testing.T) {
	s := New(intent.NewResolver(nil), panicExecutor{}, state.NewManager())
	require.NoError(t, s.Load(salesData(), "sales.csv"))
	out, err := s.Run(context.Background(), "top 2 revenue")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "exploded")
	log := s.Log(1)
	assert.False(t, log[0].Success)
	assert.Equal(t, 4, s.Dataset().NumRows())
}

func TestRunContextAndMissingData(t *testing.T) {
	s := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, "top 2 revenue")
	assert.ErrorIs(t, err, context.Canceled)

	empty := New(intent.NewResolver(nil), executor.New(), state.NewManager())
	out, err := empty.Run(context.Background(), "top 2 revenue")
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, ErrNoDataset)
	assert.ErrorIs(t, empty.Load(nil, "x"), ErrNoDataset)
	assert.False(t, empty.Undo())
}

func TestExportLogsEntry(t *testing.T) {
	var audit bytes.Buffer
	s := newSession(t, state.WithAuditSink(&audit))
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, s.Export(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Region,Revenue")
	assert.Equal(t, state.LogExport, s.Log(1)[0].Type)
	assert.Contains(t, audit.String(), `"EXPORT"`)
}

func TestStoreKeepsSessionsIndependent(t *testing.T) {
	st := NewStore()
	a, b := newSession(t), newSession(t)
	idA, idB := st.Add(a), st.Add(b)
	assert.Len(t, idA, 8)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, idA, a.ID())
	assert.Equal(t, 2, st.Len())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, ok := st.Get(idA)
			if !ok {
				return
			}
			_, _ = sess.Run(context.Background(), fmt.Sprintf("top %d revenue", 3-i%2))
		}(i)
	}
	wg.Wait()

	got, ok := st.Get(idB)
	require.True(t, ok)
	assert.Equal(t, 4, got.Dataset().NumRows())
	assert.Equal(t, 4, a.Snapshot().Summary.HistoryDepth)

	assert.True(t, st.Delete(idA))
	assert.False(t, st.Delete(idA))
	_, ok = st.Get(idA)
	assert.False(t, ok)
	assert.Equal(t, []string{idB}, st.IDs())
}

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/rs/zerolog"
)

// DefaultMaxHistory bounds the undo stack when no option overrides it.
const DefaultMaxHistory = 50

// Manager is the single owner of a session's current dataset. It is not safe
// for concurrent use; callers serialize access per session.
type Manager struct {
	maxHistory int
	log        zerolog.Logger
	now        func() time.Time
	audit      io.Writer

	current    *dataset.Dataset
	derived    Derived
	loadTime   time.Time
	lastDesc   string
	undoStack  []Snapshot
	redoStack  []Snapshot
	operations []LogEntry
	agentMsgs  []AgentMessage
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxHistory sets the undo depth; values below 1 are ignored.
func WithMaxHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithAuditSink appends every log entry and agent message to w as a JSON line.
func WithAuditSink(w io.Writer) Option { return func(m *Manager) { m.audit = w } }

// NewManager constructs an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{maxHistory: DefaultMaxHistory, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ErrNilDataset is returned by Apply when no dataset is given.
var ErrNilDataset = errors.New("apply: dataset is nil")

// Load replaces the current dataset and clears history and derived state.
// A load is a reset point, not an undoable step.
func (m *Manager) Load(ds *dataset.Dataset, sourceName string) {
	m.current = ds
	m.derived = Derived{SourceName: sourceName}
	m.undoStack = nil
	m.redoStack = nil
	m.lastDesc = ""
	m.loadTime = m.now()
	rows, cols := 0, 0
	if ds != nil {
		rows, cols = ds.NumRows(), ds.NumCols()
	}
	m.record(LogLoad, "system", fmt.Sprintf("Loaded %s (%d rows, %d columns)", sourceName, rows, cols), true, "")
}

// Apply commits ds as the new current dataset, snapshotting the previous state first.
func (m *Manager) Apply(ds *dataset.Dataset, description, agent string) error {
	return m.ApplyTyped(ds, description, agent, LogTransform)
}

// ApplyTyped is Apply with an explicit log type.
func (m *Manager) ApplyTyped(ds *dataset.Dataset, description, agent string, typ LogType) error {
	if ds == nil {
		return ErrNilDataset
	}
	m.undoStack = append(m.undoStack, m.snapshot(m.lastDesc))
	if over := len(m.undoStack) - m.maxHistory; over > 0 {
		m.undoStack = append([]Snapshot(nil), m.undoStack[over:]...)
	}
	m.redoStack = nil
	m.current = ds
	m.lastDesc = description
	m.record(typ, agent, description, true, "")
	return nil
}

// snapshot copies the current state. desc is the description of the change
// that produced that state, so redo can report it.
func (m *Manager) snapshot(desc string) Snapshot {
	return Snapshot{
		ID:          shortID(),
		Timestamp:   m.now(),
		Dataset:     m.current.Clone(),
		Derived:     m.derived.clone(),
		Description: desc,
	}
}

func (m *Manager) restore(s Snapshot) {
	m.current = s.Dataset
	m.derived = s.Derived
	m.lastDesc = s.Description
}

// Undo restores the most recent snapshot. It returns false when there is nothing to undo.
func (m *Manager) Undo() bool {
	if len(m.undoStack) == 0 {
		return false
	}
	undone := m.lastDesc
	m.redoStack = append(m.redoStack, m.snapshot(m.lastDesc))
	last := m.undoStack[len(m.undoStack)-1]
	m.undoStack = m.undoStack[:len(m.undoStack)-1]
	m.restore(last)
	m.record(LogUndo, "user", "Undid: "+undone, true, "")
	return true
}

// Redo re-applies the most recently undone state. It returns false when there is nothing to redo.
func (m *Manager) Redo() bool {
	if len(m.redoStack) == 0 {
		return false
	}
	m.undoStack = append(m.undoStack, m.snapshot(m.lastDesc))
	if over := len(m.undoStack) - m.maxHistory; over > 0 {
		m.undoStack = append([]Snapshot(nil), m.undoStack[over:]...)
	}
	next := m.redoStack[len(m.redoStack)-1]
	m.redoStack = m.redoStack[:len(m.redoStack)-1]
	m.restore(next)
	m.record(LogRedo, "user", "Redid: "+next.Description, true, "")
	return true
}

// Reset clears everything, including the logs.
func (m *Manager) Reset() {
	m.current = nil
	m.derived = Derived{}
	m.undoStack = nil
	m.redoStack = nil
	m.operations = nil
	m.agentMsgs = nil
	m.lastDesc = ""
	m.loadTime = time.Time{}
}

func (m *Manager) Dataset() *dataset.Dataset { return m.current }

func (m *Manager) SourceName() string { return m.derived.SourceName }

func (m *Manager) CanUndo() bool { return len(m.undoStack) > 0 }

func (m *Manager) CanRedo() bool { return len(m.redoStack) > 0 }

func (m *Manager) HistoryDepth() int { return len(m.undoStack) }

func (m *Manager) RedoDepth() int { return len(m.redoStack) }

// Schema returns the current schema, or nil until one is set after a load.
func (m *Manager) Schema() *schema.DatasetSchema { return m.derived.Schema }

// The setters below only touch derived metadata and never push snapshots.

func (m *Manager) SetSchema(s schema.DatasetSchema) { m.derived.Schema = &s }

func (m *Manager) SetKPIs(k []insight.KPI) { m.derived.KPIs = k }

func (m *Manager) AddChart(c insight.ChartSpec) { m.derived.Charts = append(m.derived.Charts, c) }

func (m *Manager) ClearCharts() { m.derived.Charts = nil }

func (m *Manager) SetFormattingRules(r []insight.FormattingRule) {
	m.derived.Formatting = r
}

func (m *Manager) KPIs() []insight.KPI { return m.derived.KPIs }

func (m *Manager) Charts() []insight.ChartSpec { return m.derived.Charts }

func (m *Manager) FormattingRules() []insight.FormattingRule { return m.derived.Formatting }

// LogOperation appends an entry without touching history; used for failures and exports.
func (m *Manager) LogOperation(typ LogType, agent, description string, success bool, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.record(typ, agent, description, success, msg)
}

// LogAgentMessage appends to the provenance channel. It never affects undo/redo.
func (m *Manager) LogAgentMessage(from, to, message string, metadata map[string]any) {
	msg := AgentMessage{ID: shortID(), From: from, To: to, Message: message, Metadata: metadata, Timestamp: m.now()}
	m.agentMsgs = append(m.agentMsgs, msg)
	m.log.Debug().Str("from", from).Str("to", to).Msg(message)
	m.writeAudit("agent_message", msg)
}

// RecentOperations returns up to limit of the newest entries, oldest first. limit <= 0 means 10.
func (m *Manager) RecentOperations(limit int) []LogEntry {
	if limit <= 0 {
		limit = 10
	}
	start := len(m.operations) - limit
	if start < 0 {
		start = 0
	}
	return append([]LogEntry(nil), m.operations[start:]...)
}

// Operations returns the whole operation log.
func (m *Manager) Operations() []LogEntry { return append([]LogEntry(nil), m.operations...) }

// AgentMessages returns the whole agent-message log.
func (m *Manager) AgentMessages() []AgentMessage { return append([]AgentMessage(nil), m.agentMsgs...) }

// Summary reports the manager's state.
func (m *Manager) Summary() Summary {
	s := Summary{
		HasData:         m.current != nil,
		Filename:        m.derived.SourceName,
		KPICount:        len(m.derived.KPIs),
		ChartCount:      len(m.derived.Charts),
		CanUndo:         m.CanUndo(),
		CanRedo:         m.CanRedo(),
		HistoryDepth:    m.HistoryDepth(),
		TotalOperations: len(m.operations),
		LoadTime:        m.loadTime,
	}
	if m.current != nil {
		s.Rows, s.Columns = m.current.NumRows(), m.current.NumCols()
	}
	return s
}

func (m *Manager) record(typ LogType, agent, description string, success bool, errMsg string) {
	e := LogEntry{
		ID:          shortID(),
		Type:        typ,
		Agent:       agent,
		Description: description,
		Timestamp:   m.now(),
		Success:     success,
		Error:       errMsg,
	}
	m.operations = append(m.operations, e)
	ev := m.log.Info()
	if !success {
		ev = m.log.Warn().Str("error", errMsg)
	}
	ev.Str("type", string(typ)).Str("agent", agent).Int("history_depth", len(m.undoStack)).Msg(description)
	m.writeAudit("operation", e)
}

type auditLine struct {
	Kind  string `json:"kind"`
	Entry any    `json:"entry"`
}

func (m *Manager) writeAudit(kind string, v any) {
	if m.audit == nil {
		return
	}
	b, err := json.Marshal(auditLine{Kind: kind, Entry: v})
	if err != nil {
		m.log.Warn().Err(err).Msg("audit marshal failed")
		return
	}
	if _, err := m.audit.Write(append(b, '\n')); err != nil {
		m.log.Warn().Err(err).Msg("audit write failed")
	}
}

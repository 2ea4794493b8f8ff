// Package sqlite implements the engine's persistence contracts using
// pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nevindra/conduit"
	"github.com/nevindra/conduit/agent"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs from New, Init, StoreMessage,
// GetMessages and SearchMessages; the snapshot, buffer, user-memory and
// scheduled-action methods do not log. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a single SQLite-backed implementation of every engine
// persistence contract: conversation history (agent.Store), agent-thread
// snapshots (conduit.SnapshotStore), reconnection buffers
// (conduit.BufferStore), per-user facts (conduit.UserMemoryStore), and
// cron-sourced prompts (conduit.ScheduledActionStore). Embeddings are
// stored as JSON text; vector search is brute-force cosine similarity
// over the resulting rows. Rows are not expired: no TTL is enforced on
// snapshots, buffers or user facts; entries stay until deleted.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agent.Store = (*Store)(nil)
var _ conduit.SnapshotStore = (*Store)(nil)
var _ conduit.BufferStore = (*Store)(nil)
var _ conduit.UserMemoryStore = (*Store)(nil)
var _ conduit.ScheduledActionStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// DB returns the underlying connection, for sharing with NewMemoryStore.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Init creates all required tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread_snapshots (
			conv_id INTEGER NOT NULL,
			thread_id INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS buffer_triples (
			conv_id INTEGER NOT NULL,
			thread_id INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS buffer_messages (
			conv_id INTEGER NOT NULL,
			thread_id INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS user_facts_plain (
			user_id TEXT NOT NULL,
			fact TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_personality (
			user_id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_actions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			body TEXT NOT NULL,
			recurrence TEXT NOT NULL,
			user_id TEXT NOT NULL,
			schedule TEXT NOT NULL,
			next_run INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// --- agent.Store (conversation history) ---

func (s *Store) StoreMessage(ctx context.Context, msg agent.Message) error {
	start := time.Now()
	s.logger.Debug("sqlite: store message", "id", msg.ID, "thread_id", msg.ThreadID, "role", msg.Role, "has_embedding", len(msg.Embedding) > 0)

	var embJSON *string
	if len(msg.Embedding) > 0 {
		v := serializeEmbedding(msg.Embedding)
		embJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, thread_id, role, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, embJSON, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: store message failed", "id", msg.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("store message: %w", err)
	}
	s.logger.Debug("sqlite: store message ok", "id", msg.ID, "duration", time.Since(start))
	return nil
}

// GetMessages returns the most recent messages for a thread, ordered
// chronologically (oldest first).
func (s *Store) GetMessages(ctx context.Context, threadID string, limit int) ([]agent.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get messages", "thread_id", threadID, "limit", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM messages
		 WHERE thread_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		s.logger.Error("sqlite: get messages failed", "thread_id", threadID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []agent.Message
	for rows.Next() {
		var m agent.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	s.logger.Debug("sqlite: get messages ok", "thread_id", threadID, "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

func (s *Store) SearchMessages(ctx context.Context, embedding []float32, topK int) ([]agent.ScoredMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search messages", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, embedding, created_at
		 FROM messages WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		s.logger.Error("sqlite: search messages failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []agent.ScoredMessage
	for rows.Next() {
		var m agent.Message
		var embJSON string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &embJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, agent.ScoredMessage{Message: m, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScoredMessages(results)
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search messages ok", "count", len(results), "duration", time.Since(start))
	return results, nil
}

func sortScoredMessages(msgs []agent.ScoredMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Score > msgs[j-1].Score; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// --- conduit.SnapshotStore ---

func (s *Store) Load(ctx context.Context, key conduit.ThreadKey) ([]byte, error) {
	var snap []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM thread_snapshots WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&snap)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, key conduit.ThreadKey, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_snapshots (conv_id, thread_id, agent_id, snapshot, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (conv_id, thread_id, agent_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		key.ConvID, key.ThreadID, key.AgentID, snapshot, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Delete satisfies both SnapshotStore.Delete and BufferStore.Delete (same
// signature, one method set): it clears a key's snapshot and buffered
// triples/messages together, since Store backs both roles at once.
func (s *Store) Delete(ctx context.Context, key conduit.ThreadKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	stmts := []string{
		`DELETE FROM thread_snapshots WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
		`DELETE FROM buffer_triples WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
		`DELETE FROM buffer_messages WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, key.ConvID, key.ThreadID, key.AgentID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return tx.Commit()
}

// --- conduit.BufferStore ---

// wireStreamTriple mirrors conduit.StreamTriple with Err widened to a
// string so it round-trips through JSON (error is not itself marshalable).
type wireStreamTriple struct {
	Key       conduit.ThreadKey         `json:"key"`
	Update    wireModelUpdate           `json:"update"`
	Coalesced *conduit.CoalescedMessage `json:"coalesced,omitempty"`
}

type wireModelUpdate struct {
	ID       string            `json:"id"`
	Index    int64             `json:"index"`
	Contents []wireContentItem `json:"contents"`
}

type wireContentItem struct {
	Kind       conduit.ContentKind `json:"kind"`
	Text       string              `json:"text,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolName   string              `json:"tool_name,omitempty"`
	ArgsDelta  json.RawMessage     `json:"args_delta,omitempty"`
	Result     string              `json:"result,omitempty"`
	ResultErr  string              `json:"result_err,omitempty"`
	ApprovalID string              `json:"approval_id,omitempty"`
	Err        string              `json:"err,omitempty"`
}

func marshalTriple(t conduit.StreamTriple) ([]byte, error) {
	w := wireStreamTriple{Key: t.Key, Coalesced: t.Coalesced}
	w.Update.ID = t.Update.ID
	w.Update.Index = t.Update.Index
	for _, c := range t.Update.Contents {
		wc := wireContentItem{
			Kind: c.Kind, Text: c.Text, ToolCallID: c.ToolCallID, ToolName: c.ToolName,
			ArgsDelta: c.ArgsDelta, Result: c.Result, ResultErr: c.ResultErr, ApprovalID: c.ApprovalID,
		}
		if c.Err != nil {
			wc.Err = c.Err.Error()
		}
		w.Update.Contents = append(w.Update.Contents, wc)
	}
	return json.Marshal(w)
}

func unmarshalTriple(data []byte) (conduit.StreamTriple, error) {
	var w wireStreamTriple
	if err := json.Unmarshal(data, &w); err != nil {
		return conduit.StreamTriple{}, err
	}
	t := conduit.StreamTriple{Key: w.Key, Coalesced: w.Coalesced}
	t.Update.ID = w.Update.ID
	t.Update.Index = w.Update.Index
	for _, wc := range w.Update.Contents {
		c := conduit.ContentItem{
			Kind: wc.Kind, Text: wc.Text, ToolCallID: wc.ToolCallID, ToolName: wc.ToolName,
			ArgsDelta: wc.ArgsDelta, Result: wc.Result, ResultErr: wc.ResultErr, ApprovalID: wc.ApprovalID,
		}
		if wc.Err != "" {
			c.Err = fmt.Errorf("%s", wc.Err)
		}
		t.Update.Contents = append(t.Update.Contents, c)
	}
	return t, nil
}

func (s *Store) LoadTriples(ctx context.Context, key conduit.ThreadKey) ([]conduit.StreamTriple, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM buffer_triples WHERE conv_id = ? AND thread_id = ? AND agent_id = ? ORDER BY seq`,
		key.ConvID, key.ThreadID, key.AgentID,
	)
	if err != nil {
		return nil, fmt.Errorf("load triples: %w", err)
	}
	defer rows.Close()

	var out []conduit.StreamTriple
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		t, err := unmarshalTriple([]byte(payload))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AppendTriple(ctx context.Context, key conduit.ThreadKey, t conduit.StreamTriple) error {
	payload, err := marshalTriple(t)
	if err != nil {
		return fmt.Errorf("marshal triple: %w", err)
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_triples WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buffer_triples (conv_id, thread_id, agent_id, seq, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key.ConvID, key.ThreadID, key.AgentID, seq, payload, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("append triple: %w", err)
	}
	return nil
}

func (s *Store) LoadRecentMessages(ctx context.Context, key conduit.ThreadKey, limit int) ([]conduit.CoalescedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM buffer_messages WHERE conv_id = ? AND thread_id = ? AND agent_id = ? ORDER BY seq DESC LIMIT ?`,
		key.ConvID, key.ThreadID, key.AgentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	defer rows.Close()

	var out []conduit.CoalescedMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m conduit.CoalescedMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, key conduit.ThreadKey, m conduit.CoalescedMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_messages WHERE conv_id = ? AND thread_id = ? AND agent_id = ?`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buffer_messages (conv_id, thread_id, agent_id, seq, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key.ConvID, key.ThreadID, key.AgentID, seq, payload, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// --- conduit.UserMemoryStore ---

func (s *Store) AddFact(ctx context.Context, userID, fact string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_facts_plain (user_id, fact, created_at) VALUES (?, ?, ?)`,
		userID, fact, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("add fact: %w", err)
	}
	return nil
}

func (s *Store) Facts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact FROM user_facts_plain WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *Store) Personality(ctx context.Context, userID string) (string, error) {
	var profile string
	err := s.db.QueryRowContext(ctx, `SELECT profile FROM user_personality WHERE user_id = ?`, userID).Scan(&profile)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("personality: %w", err)
	}
	return profile, nil
}

func (s *Store) SetPersonality(ctx context.Context, userID, profile string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_personality (user_id, profile, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
		userID, profile, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("set personality: %w", err)
	}
	return nil
}

// --- conduit.ScheduledActionStore ---

// CreateScheduledAction persists a new cron-sourced prompt. Not part of
// ScheduledActionStore itself (the scheduler only ever reads due actions
// and reschedules/disables them), but needed by whatever registers new
// schedules in the first place.
func (s *Store) CreateScheduledAction(ctx context.Context, action conduit.ScheduledAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_actions (id, agent_id, body, recurrence, user_id, schedule, next_run, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.AgentID, action.Body, action.Recurrence, action.UserID,
		action.Schedule, action.NextRun, boolToInt(action.Enabled),
	)
	if err != nil {
		return fmt.Errorf("create scheduled action: %w", err)
	}
	return nil
}

func (s *Store) DueScheduledActions(ctx context.Context, now int64) ([]conduit.ScheduledAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, body, recurrence, user_id, schedule, next_run, enabled
		 FROM scheduled_actions WHERE enabled = 1 AND next_run <= ? ORDER BY next_run`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("due scheduled actions: %w", err)
	}
	defer rows.Close()

	var actions []conduit.ScheduledAction
	for rows.Next() {
		var a conduit.ScheduledAction
		var enabled int
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Body, &a.Recurrence, &a.UserID, &a.Schedule, &a.NextRun, &enabled); err != nil {
			return nil, err
		}
		a.Enabled = enabled != 0
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) RescheduleOrDisable(ctx context.Context, id string, nextRun int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_actions SET next_run = ?, enabled = ? WHERE id = ?`,
		nextRun, boolToInt(enabled), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

// Package postgres implements the engine's persistence contracts using
// PostgreSQL with pgvector for native vector similarity search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/conduit"
	"github.com/nevindra/conduit/agent"
)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Store is a single PostgreSQL-backed implementation of every engine
// persistence contract: conversation history (agent.Store), agent-thread
// snapshots (conduit.SnapshotStore), reconnection buffers
// (conduit.BufferStore), per-user facts (conduit.UserMemoryStore), and
// cron-sourced prompts (conduit.ScheduledActionStore). Vector search uses
// an HNSW index with cosine distance. Rows are not expired: no TTL is
// enforced on snapshots, buffers or user facts; entries stay until deleted.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector (current behavior)
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
	logger             *slog.Logger
}

// Option configures a PostgreSQL Store or MemoryStore.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Default: pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// WithLogger sets a structured logger, used by MemoryStore for per-operation
// debug logs. Store itself does not currently log.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var _ agent.Store = (*Store)(nil)
var _ conduit.SnapshotStore = (*Store)(nil)
var _ conduit.BufferStore = (*Store)(nil)
var _ conduit.UserMemoryStore = (*Store)(nil)
var _ conduit.ScheduledActionStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding %s,
			created_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages(thread_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS messages_embedding_idx ON messages USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS thread_snapshots (
			conv_id BIGINT NOT NULL,
			thread_id BIGINT NOT NULL,
			agent_id TEXT NOT NULL,
			snapshot BYTEA NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id)
		)`,

		`CREATE TABLE IF NOT EXISTS buffer_triples (
			conv_id BIGINT NOT NULL,
			thread_id BIGINT NOT NULL,
			agent_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			payload JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS buffer_messages (
			conv_id BIGINT NOT NULL,
			thread_id BIGINT NOT NULL,
			agent_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			payload JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (conv_id, thread_id, agent_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS user_facts_plain (
			user_id TEXT NOT NULL,
			fact TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS user_facts_plain_user_idx ON user_facts_plain(user_id)`,

		`CREATE TABLE IF NOT EXISTS user_personality (
			user_id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS scheduled_actions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			body TEXT NOT NULL,
			recurrence TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			schedule TEXT NOT NULL,
			next_run BIGINT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS scheduled_actions_due_idx ON scheduled_actions(next_run) WHERE enabled`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// --- agent.Store (conversation history) ---

func (s *Store) StoreMessage(ctx context.Context, msg agent.Message) error {
	var embArg any
	if len(msg.Embedding) > 0 {
		embArg = serializeEmbedding(msg.Embedding)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO messages (id, thread_id, role, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5::vector, $6)
			 ON CONFLICT (id) DO UPDATE SET
			   thread_id = EXCLUDED.thread_id, role = EXCLUDED.role, content = EXCLUDED.content,
			   embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at`,
			msg.ID, msg.ThreadID, msg.Role, msg.Content, embArg, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: store message: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, role, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   thread_id = EXCLUDED.thread_id, role = EXCLUDED.role, content = EXCLUDED.content,
		   embedding = NULL, created_at = EXCLUDED.created_at`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: store message: %w", err)
	}
	return nil
}

// GetMessages returns the most recent messages for a thread, ordered
// chronologically (oldest first).
func (s *Store) GetMessages(ctx context.Context, threadID string, limit int) ([]agent.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM messages WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get messages: %w", err)
	}
	defer rows.Close()

	var messages []agent.Message
	for rows.Next() {
		var m agent.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SearchMessages performs vector similarity search using pgvector's cosine
// distance operator with the HNSW index built in Init.
func (s *Store) SearchMessages(ctx context.Context, embedding []float32, topK int) ([]agent.ScoredMessage, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, created_at, 1 - (embedding <=> $1::vector) AS score
		 FROM messages WHERE embedding IS NOT NULL ORDER BY embedding <=> $1::vector LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search messages: %w", err)
	}
	defer rows.Close()

	var results []agent.ScoredMessage
	for rows.Next() {
		var m agent.Message
		var score float32
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		results = append(results, agent.ScoredMessage{Message: m, Score: score})
	}
	return results, rows.Err()
}

// --- conduit.SnapshotStore ---

func (s *Store) Load(ctx context.Context, key conduit.ThreadKey) ([]byte, error) {
	var snap []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM thread_snapshots WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&snap)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, key conduit.ThreadKey, snapshot []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO thread_snapshots (conv_id, thread_id, agent_id, snapshot, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conv_id, thread_id, agent_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		key.ConvID, key.ThreadID, key.AgentID, snapshot, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// Delete satisfies both SnapshotStore.Delete and BufferStore.Delete (same
// signature, one method set): it clears a key's snapshot and buffered
// triples/messages together, since Store backs both roles at once.
func (s *Store) Delete(ctx context.Context, key conduit.ThreadKey) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmts := []string{
		`DELETE FROM thread_snapshots WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
		`DELETE FROM buffer_triples WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
		`DELETE FROM buffer_messages WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, key.ConvID, key.ThreadID, key.AgentID); err != nil {
			return fmt.Errorf("postgres: delete: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// --- conduit.BufferStore ---

func (s *Store) LoadTriples(ctx context.Context, key conduit.ThreadKey) ([]conduit.StreamTriple, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM buffer_triples WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3 ORDER BY seq`,
		key.ConvID, key.ThreadID, key.AgentID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load triples: %w", err)
	}
	defer rows.Close()

	var out []conduit.StreamTriple
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		t, err := unmarshalTriple(payload)
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
		return fmt.Errorf("postgres: marshal triple: %w", err)
	}
	var seq int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_triples WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("postgres: next seq: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO buffer_triples (conv_id, thread_id, agent_id, seq, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ConvID, key.ThreadID, key.AgentID, seq, payload, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append triple: %w", err)
	}
	return nil
}

func (s *Store) LoadRecentMessages(ctx context.Context, key conduit.ThreadKey, limit int) ([]conduit.CoalescedMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM buffer_messages WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3 ORDER BY seq DESC LIMIT $4`,
		key.ConvID, key.ThreadID, key.AgentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load recent messages: %w", err)
	}
	defer rows.Close()

	var out []conduit.CoalescedMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m conduit.CoalescedMessage
		if err := json.Unmarshal(payload, &m); err != nil {
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
		return fmt.Errorf("postgres: marshal message: %w", err)
	}
	var seq int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM buffer_messages WHERE conv_id = $1 AND thread_id = $2 AND agent_id = $3`,
		key.ConvID, key.ThreadID, key.AgentID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("postgres: next seq: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO buffer_messages (conv_id, thread_id, agent_id, seq, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ConvID, key.ThreadID, key.AgentID, seq, payload, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}
	return nil
}

// --- conduit.UserMemoryStore ---

func (s *Store) AddFact(ctx context.Context, userID, fact string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_facts_plain (user_id, fact, created_at) VALUES ($1, $2, $3)`,
		userID, fact, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("postgres: add fact: %w", err)
	}
	return nil
}

func (s *Store) Facts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT fact FROM user_facts_plain WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: facts: %w", err)
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
	err := s.pool.QueryRow(ctx, `SELECT profile FROM user_personality WHERE user_id = $1`, userID).Scan(&profile)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: personality: %w", err)
	}
	return profile, nil
}

func (s *Store) SetPersonality(ctx context.Context, userID, profile string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_personality (user_id, profile, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = EXCLUDED.updated_at`,
		userID, profile, agent.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("postgres: set personality: %w", err)
	}
	return nil
}

// --- conduit.ScheduledActionStore ---

// CreateScheduledAction persists a new cron-sourced prompt.
func (s *Store) CreateScheduledAction(ctx context.Context, action conduit.ScheduledAction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_actions (id, agent_id, body, recurrence, user_id, schedule, next_run, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		action.ID, action.AgentID, action.Body, action.Recurrence, action.UserID,
		action.Schedule, action.NextRun, action.Enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: create scheduled action: %w", err)
	}
	return nil
}

func (s *Store) DueScheduledActions(ctx context.Context, now int64) ([]conduit.ScheduledAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, body, recurrence, user_id, schedule, next_run, enabled
		 FROM scheduled_actions WHERE enabled AND next_run <= $1 ORDER BY next_run`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: due scheduled actions: %w", err)
	}
	defer rows.Close()

	var actions []conduit.ScheduledAction
	for rows.Next() {
		var a conduit.ScheduledAction
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Body, &a.Recurrence, &a.UserID, &a.Schedule, &a.NextRun, &a.Enabled); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) RescheduleOrDisable(ctx context.Context, id string, nextRun int64, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_actions SET next_run = $1, enabled = $2 WHERE id = $3`,
		nextRun, enabled, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: reschedule: %w", err)
	}
	return nil
}

// serializeEmbedding converts []float32 to pgvector's textual literal
// syntax, e.g. "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

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

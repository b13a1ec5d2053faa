package repo

import (
	"context"
	"database/sql"
	"math"

	"github.com/txcore/tx/internal/models"
)

// LearningRepo maps the learnings table and its learnings_fts mirror.
type LearningRepo struct{}

func NewLearningRepo() *LearningRepo { return &LearningRepo{} }

func (r *LearningRepo) Insert(ctx context.Context, q Queryer, l *models.Learning) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO learnings (content, source_type, source_ref, keywords, category,
			usage_count, last_used_at, outcome_score, embedding, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Content, string(l.SourceType), l.SourceRef, l.Keywords, l.Category,
		l.UsageCount, nullTime(l.LastUsedAt), l.OutcomeScore, encodeEmbedding(l.Embedding), l.RunID,
		formatTime(l.CreatedAt),
	)
	if err != nil {
		return 0, dbErr("insert learning", err)
	}
	return res.LastInsertId()
}

func (r *LearningRepo) RecordUsage(ctx context.Context, q Queryer, id int64, at string, outcomeDelta float64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE learnings SET usage_count=usage_count+1, last_used_at=?, outcome_score=outcome_score+? WHERE id=?`,
		at, outcomeDelta, id)
	return dbErr("record learning usage", err)
}

const learningColumns = `id, content, source_type, source_ref, keywords, category,
	usage_count, last_used_at, outcome_score, embedding, run_id, created_at`

func (r *LearningRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Learning, error) {
	var l models.Learning
	var sourceType, createdAt string
	var sourceRef, runID, lastUsedAt sql.NullString
	var embedding []byte

	if err := row.Scan(&l.ID, &l.Content, &sourceType, &sourceRef, &l.Keywords, &l.Category,
		&l.UsageCount, &lastUsedAt, &l.OutcomeScore, &embedding, &runID, &createdAt); err != nil {
		return nil, err
	}
	l.SourceType = models.LearningSourceType(sourceType)
	l.SourceRef = fromNullString(sourceRef)
	l.RunID = fromNullString(runID)
	l.Embedding = decodeEmbedding(embedding)

	var err error
	if l.LastUsedAt, err = fromNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LearningRepo) Get(ctx context.Context, q Queryer, id int64) (*models.Learning, error) {
	row := q.QueryRowContext(ctx, `SELECT `+learningColumns+` FROM learnings WHERE id=?`, id)
	l, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get learning", err)
	}
	return l, nil
}

func (r *LearningRepo) Delete(ctx context.Context, q Queryer, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM learnings WHERE id=?`, id)
	return dbErr("delete learning", err)
}

func (r *LearningRepo) ListByIDs(ctx context.Context, q Queryer, ids []int64) ([]*models.Learning, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + learningColumns + ` FROM learnings WHERE id IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args[i] = id
	}
	query += `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list learnings by ids", err)
	}
	defer rows.Close()

	var out []*models.Learning
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan learning", err)
		}
		out = append(out, l)
	}
	return out, dbErr("list learnings by ids rows", rows.Err())
}

// ListAll returns every learning, oldest first -- used by JSONL export.
func (r *LearningRepo) ListAll(ctx context.Context, q Queryer) ([]*models.Learning, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+learningColumns+` FROM learnings ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("list all learnings", err)
	}
	defer rows.Close()

	var out []*models.Learning
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan learning", err)
		}
		out = append(out, l)
	}
	return out, dbErr("list all learnings rows", rows.Err())
}

// UpsertWithID inserts a learning with an explicit id, or overwrites the row
// if the id already exists -- the JSONL importer's path, distinct from
// Insert's autoincrement-assigning path used by the live service.
func (r *LearningRepo) UpsertWithID(ctx context.Context, q Queryer, l *models.Learning) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO learnings (id, content, source_type, source_ref, keywords, category,
			usage_count, last_used_at, outcome_score, embedding, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, source_type=excluded.source_type,
			source_ref=excluded.source_ref, keywords=excluded.keywords, category=excluded.category,
			usage_count=excluded.usage_count, last_used_at=excluded.last_used_at,
			outcome_score=excluded.outcome_score, embedding=excluded.embedding, run_id=excluded.run_id`,
		l.ID, l.Content, string(l.SourceType), l.SourceRef, l.Keywords, l.Category,
		l.UsageCount, nullTime(l.LastUsedAt), l.OutcomeScore, encodeEmbedding(l.Embedding), l.RunID,
		formatTime(l.CreatedAt),
	)
	return dbErr("upsert learning by id", err)
}

// FTSHit is one BM25-ranked search result: more negative rank is a better
// match (SQLite FTS5 convention), translated to a positive score by the
// caller.
type FTSHit struct {
	LearningID int64
	Rank       float64
}

// SearchFTS runs a BM25 full-text query against the learnings_fts mirror.
func (r *LearningRepo) SearchFTS(ctx context.Context, q Queryer, query string, limit int) ([]FTSHit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT rowid, bm25(learnings_fts) FROM learnings_fts
		WHERE learnings_fts MATCH ? ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, dbErr("search learnings fts", err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.LearningID, &h.Rank); err != nil {
			return nil, dbErr("scan fts hit", err)
		}
		out = append(out, h)
	}
	return out, dbErr("search learnings fts rows", rows.Err())
}

// ListAllWithEmbedding returns every learning carrying a non-empty vector,
// the candidate pool for the in-process cosine-similarity vector pass
// (spec.md §4.K hybrid recall).
func (r *LearningRepo) ListAllWithEmbedding(ctx context.Context, q Queryer) ([]*models.Learning, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+learningColumns+` FROM learnings WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, dbErr("list embedded learnings", err)
	}
	defer rows.Close()

	var out []*models.Learning
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan embedded learning", err)
		}
		out = append(out, l)
	}
	return out, dbErr("list embedded learnings rows", rows.Err())
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		b[4*i] = byte(bits)
		b[4*i+1] = byte(bits >> 8)
		b[4*i+2] = byte(bits >> 16)
		b[4*i+3] = byte(bits >> 24)
	}
	return b
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

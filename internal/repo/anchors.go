package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// AnchorRepo maps the anchors table.
type AnchorRepo struct{}

func NewAnchorRepo() *AnchorRepo { return &AnchorRepo{} }

func (r *AnchorRepo) Insert(ctx context.Context, q Queryer, a *models.Anchor) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO anchors (learning_id, kind, file_path, value, content_hash, symbol_fqname,
			line_start, line_end, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.LearningID, string(a.Kind), a.FilePath, a.Value, a.ContentHash, a.SymbolFQName,
		nullInt(a.LineStart), nullInt(a.LineEnd), string(a.Status), formatTime(a.CreatedAt),
	)
	if err != nil {
		return 0, dbErr("insert anchor", err)
	}
	return res.LastInsertId()
}

// Remove is a soft-delete: spec.md §4.L keeps the anchor row and flips it
// to 'invalid' rather than destroying provenance.
func (r *AnchorRepo) Remove(ctx context.Context, q Queryer, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE anchors SET status='invalid' WHERE id=?`, id)
	return dbErr("soft-delete anchor", err)
}

func (r *AnchorRepo) UpdateStatus(ctx context.Context, q Queryer, id int64, status models.AnchorStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE anchors SET status=? WHERE id=?`, string(status), id)
	return dbErr("update anchor status", err)
}

const anchorColumns = `id, learning_id, kind, file_path, value, content_hash, symbol_fqname,
	line_start, line_end, status, created_at`

func (r *AnchorRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Anchor, error) {
	var a models.Anchor
	var kind, status, createdAt string
	var contentHash, symbolFQName sql.NullString
	var lineStart, lineEnd sql.NullInt64

	if err := row.Scan(&a.ID, &a.LearningID, &kind, &a.FilePath, &a.Value, &contentHash, &symbolFQName,
		&lineStart, &lineEnd, &status, &createdAt); err != nil {
		return nil, err
	}
	a.Kind = models.AnchorKind(kind)
	a.Status = models.AnchorStatus(status)
	a.ContentHash = fromNullString(contentHash)
	a.SymbolFQName = fromNullString(symbolFQName)
	a.LineStart = fromNullInt(lineStart)
	a.LineEnd = fromNullInt(lineEnd)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AnchorRepo) Get(ctx context.Context, q Queryer, id int64) (*models.Anchor, error) {
	row := q.QueryRowContext(ctx, `SELECT `+anchorColumns+` FROM anchors WHERE id=?`, id)
	a, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get anchor", err)
	}
	return a, nil
}

func (r *AnchorRepo) ListByLearning(ctx context.Context, q Queryer, learningID int64) ([]*models.Anchor, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+anchorColumns+` FROM anchors WHERE learning_id=? ORDER BY created_at ASC`, learningID)
	if err != nil {
		return nil, dbErr("list anchors by learning", err)
	}
	defer rows.Close()

	var out []*models.Anchor
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan anchor", err)
		}
		out = append(out, a)
	}
	return out, dbErr("list anchors by learning rows", rows.Err())
}

func (r *AnchorRepo) ListByFile(ctx context.Context, q Queryer, filePath string) ([]*models.Anchor, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+anchorColumns+` FROM anchors WHERE file_path=? ORDER BY created_at ASC`, filePath)
	if err != nil {
		return nil, dbErr("list anchors by file", err)
	}
	defer rows.Close()

	var out []*models.Anchor
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan anchor", err)
		}
		out = append(out, a)
	}
	return out, dbErr("list anchors by file rows", rows.Err())
}

func (r *AnchorRepo) ListByStatus(ctx context.Context, q Queryer, status models.AnchorStatus) ([]*models.Anchor, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+anchorColumns+` FROM anchors WHERE status=? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, dbErr("list anchors by status", err)
	}
	defer rows.Close()

	var out []*models.Anchor
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan anchor", err)
		}
		out = append(out, a)
	}
	return out, dbErr("list anchors by status rows", rows.Err())
}

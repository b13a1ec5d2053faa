package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// FileLearningRepo maps the file_learnings table: a many-to-many join
// between file paths and learnings, used by the graph service to seed
// expandFromFiles.
type FileLearningRepo struct{}

func NewFileLearningRepo() *FileLearningRepo { return &FileLearningRepo{} }

func (r *FileLearningRepo) Upsert(ctx context.Context, q Queryer, fl *models.FileLearning) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_learnings (file_path, learning_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path, learning_id) DO UPDATE SET updated_at=excluded.updated_at`,
		fl.FilePath, fl.LearningID, formatTime(fl.CreatedAt), formatTime(fl.UpdatedAt),
	)
	return dbErr("upsert file learning", err)
}

const fileLearningColumns = `id, file_path, learning_id, created_at, updated_at`

func (r *FileLearningRepo) scan(row interface{ Scan(dest ...any) error }) (*models.FileLearning, error) {
	var fl models.FileLearning
	var createdAt, updatedAt string
	if err := row.Scan(&fl.ID, &fl.FilePath, &fl.LearningID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if fl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &fl, nil
}

func (r *FileLearningRepo) Get(ctx context.Context, q Queryer, id int64) (*models.FileLearning, error) {
	row := q.QueryRowContext(ctx, `SELECT `+fileLearningColumns+` FROM file_learnings WHERE id=?`, id)
	fl, err := r.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get file learning", err)
	}
	return fl, nil
}

// ListAll returns every file-learning link, oldest first -- used by JSONL
// export.
func (r *FileLearningRepo) ListAll(ctx context.Context, q Queryer) ([]*models.FileLearning, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fileLearningColumns+` FROM file_learnings ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("list all file learnings", err)
	}
	defer rows.Close()

	var out []*models.FileLearning
	for rows.Next() {
		fl, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan file learning", err)
		}
		out = append(out, fl)
	}
	return out, dbErr("list all file learnings rows", rows.Err())
}

// UpsertWithID inserts or overwrites a file-learning link by explicit id --
// the JSONL importer's path, distinct from Upsert's conflict-on-natural-key
// path used by the live service.
func (r *FileLearningRepo) UpsertWithID(ctx context.Context, q Queryer, fl *models.FileLearning) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_learnings (id, file_path, learning_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET file_path=excluded.file_path, learning_id=excluded.learning_id,
			updated_at=excluded.updated_at`,
		fl.ID, fl.FilePath, fl.LearningID, formatTime(fl.CreatedAt), formatTime(fl.UpdatedAt),
	)
	return dbErr("upsert file learning by id", err)
}

func (r *FileLearningRepo) ListByFile(ctx context.Context, q Queryer, filePath string) ([]*models.FileLearning, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fileLearningColumns+` FROM file_learnings WHERE file_path=? ORDER BY updated_at DESC`, filePath)
	if err != nil {
		return nil, dbErr("list file learnings by file", err)
	}
	defer rows.Close()

	var out []*models.FileLearning
	for rows.Next() {
		fl, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan file learning", err)
		}
		out = append(out, fl)
	}
	return out, dbErr("list file learnings by file rows", rows.Err())
}

package repo

import (
	"context"
	"database/sql"

	"github.com/txcore/tx/internal/models"
)

// EdgeRepo maps the edges table.
type EdgeRepo struct{}

func NewEdgeRepo() *EdgeRepo { return &EdgeRepo{} }

func (r *EdgeRepo) Insert(ctx context.Context, q Queryer, e *models.Edge) (int64, error) {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO edges (edge_type, src_kind, src_id, dst_kind, dst_id, weight, metadata, valid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), string(e.Source.Kind), e.Source.ID, string(e.Target.Kind), e.Target.ID,
		e.Weight, meta, boolToInt(e.Valid), formatTime(e.CreatedAt),
	)
	if err != nil {
		return 0, dbErr("insert edge", err)
	}
	return res.LastInsertId()
}

func (r *EdgeRepo) Invalidate(ctx context.Context, q Queryer, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE edges SET valid=0 WHERE id=?`, id)
	return dbErr("invalidate edge", err)
}

func (r *EdgeRepo) UpdateWeight(ctx context.Context, q Queryer, id int64, weight float64) error {
	_, err := q.ExecContext(ctx, `UPDATE edges SET weight=? WHERE id=?`, weight, id)
	return dbErr("update edge weight", err)
}

func (r *EdgeRepo) UpdateMetadata(ctx context.Context, q Queryer, id int64, metadata map[string]any) error {
	meta, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE edges SET metadata=? WHERE id=?`, meta, id)
	return dbErr("update edge metadata", err)
}

const edgeColumns = `id, edge_type, src_kind, src_id, dst_kind, dst_id, weight, metadata, valid, created_at`

func (r *EdgeRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Edge, error) {
	var e models.Edge
	var edgeType, srcKind, dstKind, createdAt, metaStr string
	var validInt int

	if err := row.Scan(&e.ID, &edgeType, &srcKind, &e.Source.ID, &dstKind, &e.Target.ID,
		&e.Weight, &metaStr, &validInt, &createdAt); err != nil {
		return nil, err
	}
	e.Type = models.EdgeType(edgeType)
	e.Source.Kind = models.NodeKind(srcKind)
	e.Target.Kind = models.NodeKind(dstKind)
	e.Valid = validInt != 0

	meta, err := unmarshalJSONMap(metaStr)
	if err != nil {
		return nil, err
	}
	e.Metadata = meta

	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EdgeRepo) Get(ctx context.Context, q Queryer, id int64) (*models.Edge, error) {
	row := q.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id=?`, id)
	e, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get edge", err)
	}
	return e, nil
}

// FromSource returns valid edges whose source matches the given node,
// optionally filtered to a set of edge types (nil/empty means all types).
func (r *EdgeRepo) FromSource(ctx context.Context, q Queryer, n models.Node, types []models.EdgeType) ([]*models.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE valid=1 AND src_kind=? AND src_id=?`
	args := []any{string(n.Kind), n.ID}
	query, args = appendTypeFilter(query, args, types)
	return r.queryEdges(ctx, q, query, args)
}

// ToTarget returns valid edges whose target matches the given node.
func (r *EdgeRepo) ToTarget(ctx context.Context, q Queryer, n models.Node, types []models.EdgeType) ([]*models.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE valid=1 AND dst_kind=? AND dst_id=?`
	args := []any{string(n.Kind), n.ID}
	query, args = appendTypeFilter(query, args, types)
	return r.queryEdges(ctx, q, query, args)
}

func (r *EdgeRepo) ByType(ctx context.Context, q Queryer, t models.EdgeType) ([]*models.Edge, error) {
	return r.queryEdges(ctx, q, `SELECT `+edgeColumns+` FROM edges WHERE valid=1 AND edge_type=?`, []any{string(t)})
}

func (r *EdgeRepo) CountByType(ctx context.Context, q Queryer, t models.EdgeType) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE valid=1 AND edge_type=?`, string(t)).Scan(&n)
	if err != nil {
		return 0, dbErr("count edges by type", err)
	}
	return n, nil
}

func appendTypeFilter(query string, args []any, types []models.EdgeType) (string, []any) {
	if len(types) == 0 {
		return query, args
	}
	query += ` AND edge_type IN (`
	for i, t := range types {
		if i > 0 {
			query += `,`
		}
		query += `?`
		args = append(args, string(t))
	}
	query += `)`
	return query, args
}

func (r *EdgeRepo) queryEdges(ctx context.Context, q Queryer, query string, args []any) ([]*models.Edge, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("query edges", err)
	}
	defer rows.Close()

	var out []*models.Edge
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan edge", err)
		}
		out = append(out, e)
	}
	return out, dbErr("query edges rows", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

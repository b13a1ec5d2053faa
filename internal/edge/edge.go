// Package edge implements spec.md component M: typed directed weighted
// edges between heterogeneous nodes, with BFS neighbor/path queries.
package edge

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/exp/slices"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
	"github.com/txcore/tx/internal/validate"
)

// Direction selects which side of an edge findNeighbors traverses.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// NeighborOptions parametrizes FindNeighbors.
type NeighborOptions struct {
	Depth     int
	Direction Direction
	EdgeTypes []models.EdgeType
}

// Neighbor is one node discovered by FindNeighbors.
type Neighbor struct {
	Node      models.Node
	Depth     int
	Weight    float64
	Direction Direction
	EdgeType  models.EdgeType
}

// CreateSpec is the payload for CreateEdge.
type CreateSpec struct {
	Type     models.EdgeType
	Source   models.Node `validate:"required"`
	Target   models.Node `validate:"required"`
	Weight   float64     `validate:"gt=0,lte=1"`
	Metadata map[string]any
}

type Service struct {
	db    *storage.DB
	edges *repo.EdgeRepo
	log   *zap.Logger
}

func New(db *storage.DB, edges *repo.EdgeRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, edges: edges, log: log}
}

// CreateEdge validates type membership and weight range; duplicate
// (type, source, target) tuples are permitted (spec.md §4.M).
func (s *Service) CreateEdge(ctx context.Context, spec CreateSpec) (*models.Edge, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, err
	}
	if !models.KnownEdgeTypes[spec.Type] {
		return nil, txerr.Validation("unknown edge type", map[string]any{"type": string(spec.Type)})
	}
	if spec.Weight <= 0 || spec.Weight > 1 {
		return nil, txerr.Validation("weight must be in (0,1]", map[string]any{"weight": spec.Weight})
	}
	meta := spec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	e := &models.Edge{
		Type:      spec.Type,
		Source:    spec.Source,
		Target:    spec.Target,
		Weight:    spec.Weight,
		Metadata:  meta,
		Valid:     true,
		CreatedAt: time.Now().UTC(),
	}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		id, err := s.edges.Insert(ctx, tx, e)
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) InvalidateEdge(ctx context.Context, id int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.edges.Invalidate(ctx, tx, id)
	})
}

// Update changes weight and/or metadata only; endpoints and type are
// immutable (spec.md §4.M). Either field may be nil to leave it untouched.
func (s *Service) Update(ctx context.Context, id int64, weight *float64, metadata map[string]any) error {
	if weight == nil && metadata == nil {
		return nil
	}
	if weight != nil && (*weight <= 0 || *weight > 1) {
		return txerr.Validation("weight must be in (0,1]", map[string]any{"weight": *weight})
	}
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if weight != nil {
			if err := s.edges.UpdateWeight(ctx, tx, id, *weight); err != nil {
				return err
			}
		}
		if metadata != nil {
			if err := s.edges.UpdateMetadata(ctx, tx, id, metadata); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindNeighbors runs a bounded BFS from the given node. Each node is
// yielded at most once via a visited-set; depth bounds hops, not nodes.
func (s *Service) FindNeighbors(ctx context.Context, n models.Node, opts NeighborOptions) ([]Neighbor, error) {
	if opts.Depth <= 0 {
		opts.Depth = 1
	}
	if opts.Direction == "" {
		opts.Direction = Outgoing
	}
	q := s.db.Conn()

	visited := map[string]bool{nodeKey(n): true}
	var out []Neighbor
	frontier := []models.Node{n}

	for depth := 1; depth <= opts.Depth && len(frontier) > 0; depth++ {
		var next []models.Node
		for _, cur := range frontier {
			edges, err := s.edgesFor(ctx, q, cur, opts.Direction, opts.EdgeTypes)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				var other models.Node
				var dir Direction
				if e.Source == cur {
					other, dir = e.Target, Outgoing
				} else {
					other, dir = e.Source, Incoming
				}
				key := nodeKey(other)
				if visited[key] {
					continue
				}
				visited[key] = true
				out = append(out, Neighbor{Node: other, Depth: depth, Weight: e.Weight, Direction: dir, EdgeType: e.Type})
				next = append(next, other)
			}
		}
		frontier = next
	}
	return out, nil
}

// FindPath returns the first path found from src to dst (BFS order), or
// nil if unreachable within maxDepth hops.
func (s *Service) FindPath(ctx context.Context, src, dst models.Node, maxDepth int) ([]*models.Edge, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	q := s.db.Conn()

	type frame struct {
		node models.Node
		path []*models.Edge
	}
	visited := map[string]bool{nodeKey(src): true}
	queue := []frame{{node: src}}

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var nextQueue []frame
		for _, f := range queue {
			edges, err := s.edges.FromSource(ctx, q, f.node, nil)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if e.Target == dst {
					return append(slices.Clone(f.path), e), nil
				}
				key := nodeKey(e.Target)
				if visited[key] {
					continue
				}
				visited[key] = true
				nextQueue = append(nextQueue, frame{node: e.Target, path: append(slices.Clone(f.path), e)})
			}
		}
		queue = nextQueue
	}
	return nil, nil
}

func (s *Service) FindByType(ctx context.Context, t models.EdgeType) ([]*models.Edge, error) {
	return s.edges.ByType(ctx, s.db.Conn(), t)
}

func (s *Service) FindFromSource(ctx context.Context, n models.Node) ([]*models.Edge, error) {
	return s.edges.FromSource(ctx, s.db.Conn(), n, nil)
}

func (s *Service) FindToTarget(ctx context.Context, n models.Node) ([]*models.Edge, error) {
	return s.edges.ToTarget(ctx, s.db.Conn(), n, nil)
}

func (s *Service) CountByType(ctx context.Context, t models.EdgeType) (int, error) {
	return s.edges.CountByType(ctx, s.db.Conn(), t)
}

func (s *Service) edgesFor(ctx context.Context, q repo.Queryer, n models.Node, dir Direction, types []models.EdgeType) ([]*models.Edge, error) {
	var out []*models.Edge
	if dir == Outgoing || dir == Both {
		es, err := s.edges.FromSource(ctx, q, n, types)
		if err != nil {
			return nil, err
		}
		out = append(out, es...)
	}
	if dir == Incoming || dir == Both {
		es, err := s.edges.ToTarget(ctx, q, n, types)
		if err != nil {
			return nil, err
		}
		out = append(out, es...)
	}
	return out, nil
}

func nodeKey(n models.Node) string {
	return string(n.Kind) + ":" + n.ID
}

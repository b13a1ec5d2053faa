// Package hierarchy implements spec.md component G: subtree and ancestor
// views over the task parent/child relation, tolerant of corrupt cyclic
// parent pointers.
package hierarchy

import (
	"context"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
)

const defaultMaxDepth = 10
const hardDepthCap = 100

// TreeNode is one node of a getTree result.
type TreeNode struct {
	Task     models.Task
	Children []*TreeNode
}

type Service struct {
	db    *storage.DB
	tasks *repo.TaskRepo
	log   *zap.Logger
}

func New(db *storage.DB, tasks *repo.TaskRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, tasks: tasks, log: log}
}

// GetTree builds the subtree rooted at root, maintaining a visited-id set
// so a corrupt cyclic parent pointer (including a task that is its own
// parent) is visited at most once instead of recursing forever (spec.md
// §4.G, §8 scenario 6).
func (s *Service) GetTree(ctx context.Context, root string, maxDepth int) (*TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	q := s.db.Conn()

	rootTask, err := s.tasks.Get(ctx, q, root)
	if err != nil {
		return nil, err
	}
	if rootTask == nil {
		return nil, nil
	}

	visited := map[string]bool{root: true}
	node := &TreeNode{Task: *rootTask}
	if err := s.fill(ctx, node, visited, 0, maxDepth); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *Service) fill(ctx context.Context, node *TreeNode, visited map[string]bool, depth, maxDepth int) error {
	if depth >= maxDepth {
		return nil
	}
	children, err := s.tasks.ListChildren(ctx, s.db.Conn(), node.Task.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if visited[c.ID] {
			continue
		}
		visited[c.ID] = true
		child := &TreeNode{Task: *c}
		node.Children = append(node.Children, child)
		if err := s.fill(ctx, child, visited, depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}

// GetDepth walks ancestors from id, guarded by both a visited set and a
// hard cap, returning the number of hops to the furthest unvisited
// ancestor. A self-referencing parent yields depth 0, not an infinite
// loop.
func (s *Service) GetDepth(ctx context.Context, id string) (int, error) {
	q := s.db.Conn()
	visited := map[string]bool{id: true}
	depth := 0
	cur := id

	for i := 0; i < hardDepthCap; i++ {
		t, err := s.tasks.Get(ctx, q, cur)
		if err != nil {
			return 0, err
		}
		if t == nil || t.ParentID == nil {
			break
		}
		parent := *t.ParentID
		if visited[parent] {
			break
		}
		visited[parent] = true
		depth++
		cur = parent
	}
	return depth, nil
}

// GetRoots returns tasks whose parent is null. Orphaned tasks whose
// parent_id points to a nonexistent row are intentionally excluded
// (spec.md §4.G).
func (s *Service) GetRoots(ctx context.Context) ([]*models.Task, error) {
	return s.tasks.ListRoots(ctx, s.db.Conn())
}

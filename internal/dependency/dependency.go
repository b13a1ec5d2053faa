// Package dependency implements spec.md component E: adding and removing
// blockers between tasks, with a reachability check that rejects any edge
// that would close a cycle.
package dependency

import (
	"context"
	"database/sql"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

// Service wires the dependency repository behind addBlocker/removeBlocker.
type Service struct {
	db   *storage.DB
	deps *repo.DependencyRepo
	log  *zap.Logger
}

func New(db *storage.DB, deps *repo.DependencyRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, deps: deps, log: log}
}

// AddBlocker makes blocker block blocked. Given tasks A,B,C with A->B,
// B->C already recorded (A blocks B, B blocks C), calling AddBlocker(A, C)
// (C blocks A) would close the cycle A->B->C->A: the existing graph already
// lets blocked (A) reach blocker (C), so completing the edge in the other
// direction is rejected (spec.md §4.E, §8 scenario 2).
func (s *Service) AddBlocker(ctx context.Context, blocked, blocker string) error {
	if blocked == blocker {
		return txerr.Validation("blocker cannot equal blocked", map[string]any{"taskId": blocked})
	}

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		adj, err := s.deps.AllEdges(ctx, tx)
		if err != nil {
			return err
		}
		if reaches(adj, blocked, blocker) {
			s.log.Warn("rejected cyclic dependency", zap.String("blocker", blocker), zap.String("blocked", blocked))
			return txerr.CircularDependency(blocker, blocked)
		}

		if err := s.deps.Insert(ctx, tx, &models.Dependency{
			BlockerID: blocker,
			BlockedID: blocked,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}

		adj[blocker] = append(adj[blocker], blocked)
		assert.Always(!reaches(adj, blocked, blocker), "dependency graph stays acyclic after insert", map[string]any{
			"blocker": blocker, "blocked": blocked,
		})
		return nil
	})
}

// RemoveBlocker deletes the (blocker, blocked) edge; deleting a pair that
// doesn't exist is not an error.
func (s *Service) RemoveBlocker(ctx context.Context, blocked, blocker string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.deps.Remove(ctx, tx, blocker, blocked)
	})
}

// reaches reports whether a path exists from `from` to `to` (inclusive of
// from==to) over the adjacency of existing blocker->blocked edges.
func reaches(adj map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

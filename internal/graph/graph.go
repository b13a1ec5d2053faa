// Package graph implements spec.md component N: bounded weighted BFS graph
// expansion from seed learnings or files, with per-hop decay and
// edge-type filtering.
package graph

import (
	"context"
	"sort"
	"strconv"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"go.uber.org/zap"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

// Seed is a starting learning with an initial score.
type Seed struct {
	LearningID int64
	Score      float64
}

// TypeFilter is the structured include/exclude/per-hop edge-type filter.
type TypeFilter struct {
	Include []models.EdgeType
	Exclude []models.EdgeType
	PerHop  map[int][]models.EdgeType
}

// Options parametrizes Expand/ExpandFromFiles.
type Options struct {
	Depth       int
	DecayFactor float64
	MaxNodes    int
	EdgeTypes   TypeFilter
}

// Discovered is one non-seed learning found by Expand.
type Discovered struct {
	LearningID   int64
	DecayedScore float64
	SourceEdge   models.EdgeType
	Path         []int64
	Hops         int
}

type Service struct {
	db        *storage.DB
	edges     *repo.EdgeRepo
	learnings *repo.LearningRepo
	log       *zap.Logger
}

func New(db *storage.DB, edges *repo.EdgeRepo, learnings *repo.LearningRepo, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, edges: edges, learnings: learnings, log: log}
}

func validateOptions(opts Options) error {
	if opts.Depth < 0 || opts.Depth > 10 {
		return txerr.Validation("depth must be in [0,10]", map[string]any{"depth": opts.Depth})
	}
	if opts.DecayFactor <= 0 || opts.DecayFactor > 1 {
		return txerr.Validation("decayFactor must be in (0,1]", map[string]any{"decayFactor": opts.DecayFactor})
	}
	if opts.MaxNodes < 1 {
		return txerr.Validation("maxNodes must be >= 1", map[string]any{"maxNodes": opts.MaxNodes})
	}
	includeSet := map[models.EdgeType]bool{}
	for _, t := range opts.EdgeTypes.Include {
		includeSet[t] = true
	}
	for _, t := range opts.EdgeTypes.Exclude {
		if includeSet[t] {
			return txerr.Validation("edge type cannot be both included and excluded", map[string]any{"type": string(t)})
		}
	}
	return nil
}

func typesForHop(f TypeFilter, hop int) []models.EdgeType {
	if perHop, ok := f.PerHop[hop]; ok {
		return perHop
	}
	return f.Include
}

func allowed(f TypeFilter, hop int, t models.EdgeType) bool {
	include := typesForHop(f, hop)
	if len(include) > 0 {
		found := false
		for _, it := range include {
			if it == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, et := range f.Exclude {
		if et == t {
			return false
		}
	}
	return true
}

// Expand runs a bounded BFS from seeds, decaying score by
// parentScore*edgeWeight*decayFactor at each hop (spec.md §4.N, §8
// scenario 5).
func (s *Service) Expand(ctx context.Context, seeds []Seed, opts Options) ([]Discovered, error) {
	if opts.Depth == 0 {
		opts.Depth = 2
	}
	if opts.DecayFactor == 0 {
		opts.DecayFactor = 0.7
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = 100
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	q := s.db.Conn()
	type frontierEntry struct {
		learningID int64
		score      float64
		path       []int64
	}

	visited := map[int64]bool{}
	var frontier []frontierEntry
	for _, seed := range seeds {
		visited[seed.LearningID] = true
		frontier = append(frontier, frontierEntry{learningID: seed.LearningID, score: seed.Score, path: []int64{seed.LearningID}})
	}

	discoveredByID := map[int64]*Discovered{}

	for hop := 1; hop <= opts.Depth && len(frontier) > 0; hop++ {
		var next []frontierEntry
		for _, fe := range frontier {
			node := models.Node{Kind: models.NodeLearning, ID: int64ToStr(fe.learningID)}
			edges, err := s.edges.FromSource(ctx, q, node, nil)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if !allowed(opts.EdgeTypes, hop, e.Type) {
					continue
				}
				if e.Target.Kind != models.NodeLearning {
					continue
				}
				targetID, ok := strToInt64(e.Target.ID)
				if !ok || visited[targetID] {
					continue
				}
				visited[targetID] = true

				decayed := fe.score * e.Weight * opts.DecayFactor
				path := append(append([]int64{}, fe.path...), targetID)
				d := &Discovered{LearningID: targetID, DecayedScore: decayed, SourceEdge: e.Type, Path: path, Hops: hop}
				discoveredByID[targetID] = d

				if len(discoveredByID) >= opts.MaxNodes*4 {
					// Bound intermediate frontier growth; final truncation
					// to maxNodes happens after sorting below.
					continue
				}
				next = append(next, frontierEntry{learningID: targetID, score: decayed, path: path})
			}
		}
		frontier = next
	}

	out := make([]Discovered, 0, len(discoveredByID))
	for _, d := range discoveredByID {
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecayedScore > out[j].DecayedScore })
	if len(out) > opts.MaxNodes {
		out = out[:opts.MaxNodes]
	}

	assert.Always(noDuplicateHops(out, opts.Depth), "expansion hops stay within bounds with no duplicate ids", map[string]any{"depth": opts.Depth})
	return out, nil
}

// ExpandFromFiles seeds from learnings ANCHORED_TO the given files (hop 0,
// score 1.0), then follows IMPORTS/CO_CHANGES_WITH file edges for
// subsequent hops, collecting newly anchored learnings at each file hop.
func (s *Service) ExpandFromFiles(ctx context.Context, files []string, opts Options) ([]Discovered, error) {
	if opts.Depth == 0 {
		opts.Depth = 2
	}
	if opts.DecayFactor == 0 {
		opts.DecayFactor = 0.7
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = 100
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	q := s.db.Conn()
	visitedFiles := map[string]bool{}
	visitedLearnings := map[int64]bool{}
	discoveredByID := map[int64]*Discovered{}

	type fileFrontierEntry struct {
		path  string
		score float64
	}
	var frontier []fileFrontierEntry
	for _, f := range files {
		visitedFiles[f] = true
		frontier = append(frontier, fileFrontierEntry{path: f, score: 1.0})
	}

	// hop 0: anchored learnings on the seed files themselves.
	for _, f := range frontier {
		learnings, err := s.anchoredLearnings(ctx, q, f.path)
		if err != nil {
			return nil, err
		}
		for _, lid := range learnings {
			if visitedLearnings[lid] {
				continue
			}
			visitedLearnings[lid] = true
			discoveredByID[lid] = &Discovered{LearningID: lid, DecayedScore: 1.0, SourceEdge: models.EdgeAnchoredTo, Hops: 0}
		}
	}

	for hop := 1; hop <= opts.Depth && len(frontier) > 0; hop++ {
		var next []fileFrontierEntry
		for _, fe := range frontier {
			node := models.Node{Kind: models.NodeFile, ID: fe.path}
			edges, err := s.edges.FromSource(ctx, q, node, []models.EdgeType{models.EdgeImports, models.EdgeCoChangesWith})
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if e.Target.Kind != models.NodeFile || visitedFiles[e.Target.ID] {
					continue
				}
				visitedFiles[e.Target.ID] = true
				decayed := fe.score * e.Weight * opts.DecayFactor
				next = append(next, fileFrontierEntry{path: e.Target.ID, score: decayed})

				learnings, err := s.anchoredLearnings(ctx, q, e.Target.ID)
				if err != nil {
					return nil, err
				}
				for _, lid := range learnings {
					if visitedLearnings[lid] {
						continue
					}
					visitedLearnings[lid] = true
					discoveredByID[lid] = &Discovered{LearningID: lid, DecayedScore: decayed, SourceEdge: e.Type, Hops: hop}
				}
			}
		}
		frontier = next
	}

	out := make([]Discovered, 0, len(discoveredByID))
	for _, d := range discoveredByID {
		out = append(out, *d)
	}
	// Anchored (hop 0) learnings take priority when truncating to maxNodes.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}
		return out[i].DecayedScore > out[j].DecayedScore
	})
	if len(out) > opts.MaxNodes {
		out = out[:opts.MaxNodes]
	}
	return out, nil
}

func (s *Service) anchoredLearnings(ctx context.Context, q repo.Queryer, filePath string) ([]int64, error) {
	node := models.Node{Kind: models.NodeFile, ID: filePath}
	edges, err := s.edges.ToTarget(ctx, q, node, []models.EdgeType{models.EdgeAnchoredTo})
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, e := range edges {
		if e.Source.Kind == models.NodeLearning {
			if id, ok := strToInt64(e.Source.ID); ok {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func noDuplicateHops(out []Discovered, depth int) bool {
	seen := map[int64]bool{}
	for _, d := range out {
		if seen[d.LearningID] {
			return false
		}
		seen[d.LearningID] = true
		if d.Hops < 1 || d.Hops > depth {
			return false
		}
	}
	return true
}

func int64ToStr(v int64) string {
	return strconv.FormatInt(v, 10)
}

func strToInt64(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

package sync

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/storage"
)

// Default on-disk paths, relative to the project root (spec.md §6).
const (
	DefaultTasksFile         = ".tx/tasks.jsonl"
	DefaultLearningsFile     = ".tx/learnings.jsonl"
	DefaultFileLearningsFile = ".tx/file-learnings.jsonl"
	DefaultAttemptsFile      = ".tx/attempts.jsonl"
)

const (
	kvLastExport = "last_export"
	kvLastImport = "last_import"
	kvAutoSync   = "auto_sync"
)

// ImportResult is the outcome of importing one entity kind's JSONL file.
type ImportResult struct {
	Imported    int
	Skipped     int
	Conflicts   int
	ParseErrors int
}

func (a ImportResult) merge(b ImportResult) ImportResult {
	return ImportResult{
		Imported:    a.Imported + b.Imported,
		Skipped:     a.Skipped + b.Skipped,
		Conflicts:   a.Conflicts + b.Conflicts,
		ParseErrors: a.ParseErrors + b.ParseErrors,
	}
}

// CompactResult reports a file's line count before and after compaction.
type CompactResult struct {
	Before int
	After  int
}

// KindStatus reports one entity kind's db-vs-file drift.
type KindStatus struct {
	DBCount   int
	FileCount int
	Dirty     bool
}

// Status is status()'s full per-kind report.
type Status struct {
	Tasks         KindStatus
	Learnings     KindStatus
	FileLearnings KindStatus
	Attempts      KindStatus
	LastExport    *time.Time
	LastImport    *time.Time
	AutoSync      bool
}

// Service implements export/import/compact/status over the four entity
// kinds (spec.md §4.O).
type Service struct {
	db            *storage.DB
	tasks         *repo.TaskRepo
	deps          *repo.DependencyRepo
	learnings     *repo.LearningRepo
	fileLearnings *repo.FileLearningRepo
	attempts      *repo.AttemptRepo
	dirty         *repo.DirtyRepo
	kv            *repo.KVConfigRepo
	rootDir       string
	log           *zap.Logger
}

func New(db *storage.DB, tasks *repo.TaskRepo, deps *repo.DependencyRepo, learnings *repo.LearningRepo,
	fileLearnings *repo.FileLearningRepo, attempts *repo.AttemptRepo, dirty *repo.DirtyRepo, kv *repo.KVConfigRepo,
	rootDir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db: db, tasks: tasks, deps: deps, learnings: learnings, fileLearnings: fileLearnings,
		attempts: attempts, dirty: dirty, kv: kv, rootDir: rootDir, log: log,
	}
}

func (s *Service) resolve(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.rootDir, path)
}

// ExportAll runs export for every entity kind against its default path.
func (s *Service) ExportAll(ctx context.Context) error {
	if err := s.ExportTasks(ctx, ""); err != nil {
		return err
	}
	if err := s.ExportLearnings(ctx, ""); err != nil {
		return err
	}
	if err := s.ExportFileLearnings(ctx, ""); err != nil {
		return err
	}
	if err := s.ExportAttempts(ctx, ""); err != nil {
		return err
	}
	return nil
}

// ImportAll runs import for every entity kind against its default path,
// summing the four per-kind results.
func (s *Service) ImportAll(ctx context.Context) (ImportResult, error) {
	var total ImportResult

	r, err := s.ImportTasks(ctx, "")
	if err != nil {
		return total, err
	}
	total = total.merge(r)

	r, err = s.ImportLearnings(ctx, "")
	if err != nil {
		return total, err
	}
	total = total.merge(r)

	r, err = s.ImportFileLearnings(ctx, "")
	if err != nil {
		return total, err
	}
	total = total.merge(r)

	r, err = s.ImportAttempts(ctx, "")
	if err != nil {
		return total, err
	}
	total = total.merge(r)

	return total, nil
}

// GetStatus reports db-vs-file drift for every kind plus sync config.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	q := s.db.Conn()
	cfg, err := s.kv.All(ctx, q)
	if err != nil {
		return Status{}, err
	}

	st := Status{AutoSync: cfg[kvAutoSync] == "true"}
	if v := cfg[kvLastExport]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.LastExport = &t
		}
	}
	if v := cfg[kvLastImport]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.LastImport = &t
		}
	}
	lastExport := cfg[kvLastExport]

	taskCount, err := s.countTasksRows(ctx, q)
	if err != nil {
		return Status{}, err
	}
	taskFileLines, _, err := readLines(s.resolve(DefaultTasksFile))
	if err != nil {
		return Status{}, err
	}
	taskMark, _, err := s.dirty.LatestMark(ctx, q, "dirty_tasks")
	if err != nil {
		return Status{}, err
	}
	st.Tasks = KindStatus{DBCount: taskCount, FileCount: len(taskFileLines), Dirty: markAfter(taskMark, lastExport)}

	learnings, err := s.learnings.ListAll(ctx, q)
	if err != nil {
		return Status{}, err
	}
	learningFileLines, _, err := readLines(s.resolve(DefaultLearningsFile))
	if err != nil {
		return Status{}, err
	}
	learningMark, _, err := s.dirty.LatestMark(ctx, q, "dirty_learnings")
	if err != nil {
		return Status{}, err
	}
	st.Learnings = KindStatus{DBCount: len(learnings), FileCount: len(learningFileLines), Dirty: markAfter(learningMark, lastExport)}

	fileLearnings, err := s.fileLearnings.ListAll(ctx, q)
	if err != nil {
		return Status{}, err
	}
	flFileLines, _, err := readLines(s.resolve(DefaultFileLearningsFile))
	if err != nil {
		return Status{}, err
	}
	flMark, _, err := s.dirty.LatestMark(ctx, q, "dirty_file_learnings")
	if err != nil {
		return Status{}, err
	}
	st.FileLearnings = KindStatus{DBCount: len(fileLearnings), FileCount: len(flFileLines), Dirty: markAfter(flMark, lastExport)}

	attempts, err := s.attempts.ListAll(ctx, q)
	if err != nil {
		return Status{}, err
	}
	attemptFileLines, _, err := readLines(s.resolve(DefaultAttemptsFile))
	if err != nil {
		return Status{}, err
	}
	attemptMark, _, err := s.dirty.LatestMark(ctx, q, "dirty_attempts")
	if err != nil {
		return Status{}, err
	}
	st.Attempts = KindStatus{DBCount: len(attempts), FileCount: len(attemptFileLines), Dirty: markAfter(attemptMark, lastExport)}

	return st, nil
}

func (s *Service) countTasksRows(ctx context.Context, q repo.Queryer) (int, error) {
	all, err := s.tasks.List(ctx, q, repo.Filter{})
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// markAfter reports whether mark is strictly after lastExport. Empty marks
// (table untouched) or an empty lastExport (never exported) are handled
// without attempting to parse an empty string.
func markAfter(mark, lastExport string) bool {
	if mark == "" {
		return false
	}
	if lastExport == "" {
		return true
	}
	m, err := parseISO(mark)
	if err != nil {
		return false
	}
	e, err := parseISO(lastExport)
	if err != nil {
		return true
	}
	return m.After(e)
}

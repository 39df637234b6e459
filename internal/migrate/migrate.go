package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/seedbox_migrator/internal/dc"
	"github.com/italolelis/seedbox_migrator/internal/logctx"
	"github.com/italolelis/seedbox_migrator/internal/pathconv"
	"github.com/italolelis/seedbox_migrator/internal/telemetry"
)

type Outcome string

const (
	OutcomeMigrated        Outcome = "migrated"
	OutcomeSkippedActive   Outcome = "skipped_active"
	OutcomeSkippedExisting Outcome = "skipped_existing"
	OutcomeFailed          Outcome = "failed"
)

// Summary counts task outcomes of a single pass.
type Summary struct {
	Total           int
	Migrated        int
	SkippedActive   int
	SkippedExisting int
	Failed          int
}

func (s *Summary) add(o Outcome) {
	s.Total++

	switch o {
	case OutcomeMigrated:
		s.Migrated++
	case OutcomeSkippedActive:
		s.SkippedActive++
	case OutcomeSkippedExisting:
		s.SkippedExisting++
	case OutcomeFailed:
		s.Failed++
	}
}

// Attrs returns the counters as slog key/value pairs.
func (s *Summary) Attrs() []any {
	return []any{
		"total", s.Total,
		"migrated", s.Migrated,
		"skipped_active", s.SkippedActive,
		"skipped_existing", s.SkippedExisting,
		"failed", s.Failed,
	}
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d migrated, %d skipped (active peers), %d already present, %d failed (of %d)",
		s.Migrated, s.SkippedActive, s.SkippedExisting, s.Failed, s.Total)
}

type Config struct {
	// SourceBaseDir and DestinationBaseDir must point at the same logical location.
	SourceBaseDir      string
	DestinationBaseDir string
	// AllowEmpty turns an empty completed-task list into a no-op instead of an error.
	AllowEmpty bool
}

// Migrator runs a single reconciliation pass from source to destination.
type Migrator struct {
	source    SourceClient
	dest      DestinationClient
	cfg       Config
	telemetry *telemetry.Telemetry
}

func NewMigrator(source SourceClient, dest DestinationClient, cfg Config, tel *telemetry.Telemetry) *Migrator {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Migrator{
		source:    source,
		dest:      dest,
		cfg:       cfg,
		telemetry: tel,
	}
}

type bases struct {
	srcConv pathconv.Convention
	src     pathconv.Path
	dst     pathconv.Path
}

// Run authenticates both clients and moves every eligible completed task.
// A returned error means the pass was aborted; tasks migrated before that
// point stay migrated and are counted in the returned summary.
func (m *Migrator) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	err := m.telemetry.InstrumentPass(ctx, func(ctx context.Context) error {
		return m.run(ctx, summary)
	})

	return summary, err
}

func (m *Migrator) run(ctx context.Context, summary *Summary) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("authenticating against clients")

	if err := m.source.Authenticate(ctx); err != nil {
		return fmt.Errorf("source authentication failed: %w", err)
	}

	if err := m.dest.Authenticate(ctx); err != nil {
		return fmt.Errorf("destination authentication failed: %w", err)
	}

	b, err := m.detectBases(ctx)
	if err != nil {
		return err
	}

	logger.Info("fetching completed tasks from source")

	tasks, err := m.source.ListCompletedTasks(ctx)
	if err != nil {
		if errors.Is(err, dc.ErrNoTasks) && m.cfg.AllowEmpty {
			logger.Info("no completed tasks to migrate")

			return nil
		}

		return fmt.Errorf("failed to list completed tasks: %w", err)
	}

	logger.Info("completed tasks found", "count", len(tasks))

	for _, task := range tasks {
		outcome, err := m.migrateTask(ctx, task, b)
		if err != nil {
			return fmt.Errorf("aborting on task %s: %w", task.ID, err)
		}

		summary.add(outcome)
		m.telemetry.RecordTask(ctx, string(outcome))
	}

	logger.Info("finished adding tasks to destination", summary.Attrs()...)

	return nil
}

func (m *Migrator) detectBases(ctx context.Context) (bases, error) {
	logger := logctx.LoggerFromContext(ctx)

	srcConv, err := pathconv.Detect(m.cfg.SourceBaseDir)
	if err != nil {
		return bases{}, fmt.Errorf("source base dir: %w", err)
	}

	dstConv, err := pathconv.Detect(m.cfg.DestinationBaseDir)
	if err != nil {
		return bases{}, fmt.Errorf("destination base dir: %w", err)
	}

	logger.Info("detected path conventions", "source", srcConv.String(), "destination", dstConv.String())

	return bases{
		srcConv: srcConv,
		src:     pathconv.Parse(srcConv, m.cfg.SourceBaseDir),
		dst:     pathconv.Parse(dstConv, m.cfg.DestinationBaseDir),
	}, nil
}

// migrateTask returns an error only when the whole pass must stop.
func (m *Migrator) migrateTask(ctx context.Context, task *dc.Task, b bases) (Outcome, error) {
	ctx, logger := logctx.With(ctx, "task_id", task.ID, "task_name", task.Name)

	if task.HasActivePeers() {
		logger.Debug("skipping task with active peers", "peers", task.Peers)

		return OutcomeSkippedActive, nil
	}

	exists, err := m.dest.TaskExists(ctx, task.ID)
	if err != nil {
		if dc.IsFatal(err) {
			return "", err
		}

		logger.Error("failed to check destination for task", "err", err)

		return OutcomeFailed, nil
	}

	if exists {
		logger.Info("task already present at destination")

		return OutcomeSkippedExisting, nil
	}

	target := pathconv.Translate(pathconv.Parse(b.srcConv, task.SavePath), b.src, b.dst)

	if err := m.source.PauseTask(ctx, task.ID); err != nil {
		if dc.IsFatal(err) {
			return "", err
		}

		logger.Warn("failed to pause task in source", "err", err)
	}

	descriptor, err := m.source.FetchDescriptor(ctx, task.ID)
	if err != nil {
		if dc.IsFatal(err) {
			return "", err
		}

		logger.Error("failed to read descriptor, leaving task in source", "err", err)

		return OutcomeFailed, nil
	}

	if descriptor == nil {
		logger.Warn("descriptor not found, leaving task in source")

		return OutcomeFailed, nil
	}

	addedID, err := m.dest.AddTask(ctx, descriptor, target.String())
	if err != nil {
		return "", err
	}

	if addedID == "" {
		logger.Warn("destination did not accept task, leaving it in source", "download_dir", target.String())

		return OutcomeFailed, nil
	}

	logger.Info("task successfully added to destination", "destination_id", addedID, "download_dir", target.String())

	if err := m.source.RemoveTask(ctx, task.ID, true); err != nil {
		if dc.IsFatal(err) {
			return "", err
		}

		logger.Error("failed to remove task from source", "err", err)
	}

	return OutcomeMigrated, nil
}

package migrate

import (
	"context"

	"github.com/italolelis/seedbox_migrator/internal/dc"
)

// SourceClient is the download client tasks are moved away from.
type SourceClient interface {
	Authenticate(ctx context.Context) error
	ListCompletedTasks(ctx context.Context) ([]*dc.Task, error)
	FetchDescriptor(ctx context.Context, taskID string) (*dc.Descriptor, error)
	PauseTask(ctx context.Context, taskID string) error
	RemoveTask(ctx context.Context, taskID string, keepData bool) error
}

// DestinationClient is the download client tasks are moved to.
type DestinationClient interface {
	Authenticate(ctx context.Context) error
	TaskExists(ctx context.Context, taskID string) (bool, error)
	AddTask(ctx context.Context, d *dc.Descriptor, downloadDir string) (string, error)
}

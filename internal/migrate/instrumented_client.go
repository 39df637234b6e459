package migrate

import (
	"context"

	"github.com/italolelis/seedbox_migrator/internal/dc"
	"github.com/italolelis/seedbox_migrator/internal/telemetry"
)

// InstrumentedSourceClient wraps SourceClient with telemetry.
type InstrumentedSourceClient struct {
	client     SourceClient
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedSourceClient creates a new instrumented source client.
func NewInstrumentedSourceClient(client SourceClient, tel *telemetry.Telemetry, clientType string) *InstrumentedSourceClient {
	return &InstrumentedSourceClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

func (c *InstrumentedSourceClient) Authenticate(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "authenticate", func(ctx context.Context) error {
		return c.client.Authenticate(ctx)
	})
}

func (c *InstrumentedSourceClient) ListCompletedTasks(ctx context.Context) ([]*dc.Task, error) {
	var result []*dc.Task

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list_completed_tasks", func(ctx context.Context) error {
		var err error
		result, err = c.client.ListCompletedTasks(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *InstrumentedSourceClient) FetchDescriptor(ctx context.Context, taskID string) (*dc.Descriptor, error) {
	var result *dc.Descriptor

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "fetch_descriptor", func(ctx context.Context) error {
		var err error
		result, err = c.client.FetchDescriptor(ctx, taskID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *InstrumentedSourceClient) PauseTask(ctx context.Context, taskID string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "pause_task", func(ctx context.Context) error {
		return c.client.PauseTask(ctx, taskID)
	})
}

func (c *InstrumentedSourceClient) RemoveTask(ctx context.Context, taskID string, keepData bool) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "remove_task", func(ctx context.Context) error {
		return c.client.RemoveTask(ctx, taskID, keepData)
	})
}

// InstrumentedDestinationClient wraps DestinationClient with telemetry.
type InstrumentedDestinationClient struct {
	client     DestinationClient
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedDestinationClient creates a new instrumented destination client.
func NewInstrumentedDestinationClient(client DestinationClient, tel *telemetry.Telemetry, clientType string) *InstrumentedDestinationClient {
	return &InstrumentedDestinationClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

func (c *InstrumentedDestinationClient) Authenticate(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "authenticate", func(ctx context.Context) error {
		return c.client.Authenticate(ctx)
	})
}

func (c *InstrumentedDestinationClient) TaskExists(ctx context.Context, taskID string) (bool, error) {
	var result bool

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "task_exists", func(ctx context.Context) error {
		var err error
		result, err = c.client.TaskExists(ctx, taskID)

		return err
	})

	return result, err
}

// AddTask counts an empty hash as a success of the call itself; the
// rejection is visible in the migration_tasks_total outcome instead.
func (c *InstrumentedDestinationClient) AddTask(ctx context.Context, d *dc.Descriptor, downloadDir string) (string, error) {
	var result string

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "add_task", func(ctx context.Context) error {
		var err error
		result, err = c.client.AddTask(ctx, d, downloadDir)

		return err
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

package zfs

import (
	"context"
)

// Tool bundles the read-only and mutating operations on top of a Runner
type Tool struct {
	runner Runner
}

func NewTool(runner Runner) *Tool {
	return &Tool{runner}
}

func (t *Tool) Runner() Runner {
	return t.runner
}

func (t *Tool) Inventory(ctx context.Context, prefix string) (*Inventory, error) {
	return LoadInventory(ctx, t.runner, prefix)
}

func (t *Tool) Properties(ctx context.Context, fs string) ([]Property, error) {
	output, err := t.runner.Output(ctx, GetPropertiesCmd(fs))
	if err != nil {
		return nil, err
	}

	return ParseProperties(output)
}

func (t *Tool) EstimateSend(ctx context.Context, r SendRange) (uint64, error) {
	output, err := t.runner.Output(ctx, SendEstimateCmd(r))
	if err != nil {
		return 0, err
	}

	return ParseSendEstimate(output)
}

func (t *Tool) Snapshot(ctx context.Context, fs string, snap string) error {
	return t.runner.Run(ctx, SnapshotCmd(fs, snap))
}

func (t *Tool) Destroy(ctx context.Context, fs string, snap string) error {
	return t.runner.Run(ctx, DestroyCmd(fs, snap))
}

func (t *Tool) Create(ctx context.Context, fs string, props []Property) error {
	return t.runner.Run(ctx, CreateCmd(fs, props))
}

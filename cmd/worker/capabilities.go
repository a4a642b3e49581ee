package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// fileTransferrer implements operation.Transferrer by writing the
// payload into a target directory on a mounted replica volume. Remote
// replica protocols plug in behind the same interface.
type fileTransferrer struct{}

func newFileTransferrer() *fileTransferrer {
	return &fileTransferrer{}
}

// Transfer writes the payload to <target>/item-<id> atomically: into a
// temp file first, then renamed into place, so readers never observe a
// partial replica.
func (t *fileTransferrer) Transfer(ctx context.Context, target string, itemID int64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create replica directory %q: %w", target, err)
	}

	final := filepath.Join(target, fmt.Sprintf("item-%d", itemID))
	tmp, err := os.CreateTemp(target, "item-*.partial")
	if err != nil {
		return fmt.Errorf("failed to create replica temp file: %w", err)
	}

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write replica of item %d: %w", itemID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close replica of item %d: %w", itemID, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish replica of item %d: %w", itemID, err)
	}
	return nil
}

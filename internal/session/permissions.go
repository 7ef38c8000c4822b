package session

import (
	"context"
	"fmt"

	"github.com/meetscribe/meetscribe/internal/procutil"
)

// PermissionError means the OS denied audio/screen capture. Recoverable by
// the user through system settings.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("capture permission denied: %s", e.Reason)
}

// PermissionGate checks and requests OS-level capture permissions.
type PermissionGate interface {
	Check(ctx context.Context) (bool, error)
	Request(ctx context.Context) error
}

// ExecGate probes permissions through configured helper commands: exit 0
// means granted. Empty commands mean the platform needs no gating.
type ExecGate struct {
	CheckCmd   []string
	RequestCmd []string
}

func (g *ExecGate) Check(ctx context.Context) (bool, error) {
	if len(g.CheckCmd) == 0 {
		return true, nil
	}
	res, err := procutil.Run(ctx, g.CheckCmd[0], g.CheckCmd[1:], procutil.Options{})
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}
	return res.Ok(), nil
}

func (g *ExecGate) Request(ctx context.Context) error {
	if len(g.RequestCmd) == 0 {
		return &PermissionError{Reason: "no permission request helper configured"}
	}
	res, err := procutil.Run(ctx, g.RequestCmd[0], g.RequestCmd[1:], procutil.Options{})
	if err != nil {
		return fmt.Errorf("permission request: %w", err)
	}
	if !res.Ok() {
		return &PermissionError{Reason: procutil.StderrExcerpt(res.Stderr)}
	}
	return nil
}

package lifecycle

import (
	"context"
	"errors"
	"testing"
)

func TestLifecycle_ReadyReportsDrainingAndFailedChecks(t *testing.T) {
	var l Lifecycle
	l.AddCheck("store", func(context.Context) error { return nil })
	l.AddCheck("forms", func(context.Context) error { return errors.New("no forms loaded") })

	issues := l.Ready(context.Background())
	if len(issues) != 1 || issues[0] != "forms: no forms loaded" {
		t.Fatalf("issues=%v", issues)
	}

	l.SetDraining(true)
	issues = l.Ready(context.Background())
	if len(issues) != 2 || issues[0] != "draining" {
		t.Fatalf("issues=%v", issues)
	}
}

func TestLifecycle_NilIsSafe(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	l.AddCheck("x", func(context.Context) error { return nil })
	if l.IsDraining() {
		t.Fatalf("nil lifecycle should not drain")
	}
	if issues := l.Ready(context.Background()); issues != nil {
		t.Fatalf("issues=%v", issues)
	}
}

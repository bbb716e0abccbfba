package services

import (
	"context"
	"sync"
	"time"

	"github.com/ieraasyl/FitnessShell/internal/models"
)

// NavigationKind tells a replace from a push.
type NavigationKind string

const (
	NavigationReplace NavigationKind = "replace"
	NavigationPush    NavigationKind = "push"
)

// NavigationEntry is one navigation performed through a RecordingNavigator.
type NavigationEntry struct {
	Kind NavigationKind `json:"kind"`
	Path string         `json:"path"`
	At   time.Time      `json:"at"`
}

// RecordingNavigator keeps a headless screen stack. The shell uses it as
// the guard's Navigator and exposes the history to the host, which applies
// the navigations to its real screen stack.
type RecordingNavigator struct {
	mu      sync.Mutex
	stack   []string
	history []NavigationEntry
	fail    error
}

// NewRecordingNavigator starts with initialPath as the only screen.
func NewRecordingNavigator(initialPath string) *RecordingNavigator {
	return &RecordingNavigator{
		stack: []string{models.ParseLocation(initialPath).Path()},
	}
}

// Replace swaps the top of the stack.
func (n *RecordingNavigator) Replace(ctx context.Context, path string) error {
	return n.record(ctx, NavigationReplace, path)
}

// Push adds path on top of the stack.
func (n *RecordingNavigator) Push(ctx context.Context, path string) error {
	return n.record(ctx, NavigationPush, path)
}

func (n *RecordingNavigator) record(ctx context.Context, kind NavigationKind, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fail != nil {
		return n.fail
	}

	path = models.ParseLocation(path).Path()
	if kind == NavigationReplace && len(n.stack) > 0 {
		n.stack[len(n.stack)-1] = path
	} else {
		n.stack = append(n.stack, path)
	}
	n.history = append(n.history, NavigationEntry{Kind: kind, Path: path, At: time.Now().UTC()})
	return nil
}

// Current returns the path on top of the stack.
func (n *RecordingNavigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.stack) == 0 {
		return "/"
	}
	return n.stack[len(n.stack)-1]
}

// History returns a copy of every recorded navigation.
func (n *RecordingNavigator) History() []NavigationEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NavigationEntry, len(n.history))
	copy(out, n.history)
	return out
}

// Replaces returns the targets of every replace, in order.
func (n *RecordingNavigator) Replaces() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.history {
		if e.Kind == NavigationReplace {
			out = append(out, e.Path)
		}
	}
	return out
}

// FailWith makes subsequent navigations return err. Pass nil to recover.
func (n *RecordingNavigator) FailWith(err error) {
	n.mu.Lock()
	n.fail = err
	n.mu.Unlock()
}

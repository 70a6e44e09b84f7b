// Package queue implements AccountQueue (spec.md §4.7): a shared FIFO of
// account state files with atomic claim/complete/reset semantics.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bitfield/script"
)

// Task mirrors spec.md §3's AccountTask.
type Task struct {
	Filename        string
	FilePath        string
	Processed       bool
	Success         bool
	ErrorMessage    string
	RunningOnDevice string
}

// AccountQueue is a FIFO of Task plus an index by filename, all mutating
// operations serialized under a single mutex (spec.md §5 "AccountQueue:
// single mutex; all mutating methods exclusive; read snapshots via copy").
type AccountQueue struct {
	mu    sync.Mutex
	tasks []*Task
	index map[string]*Task
}

func New() *AccountQueue {
	return &AccountQueue{index: make(map[string]*Task)}
}

// Load scans folder for files matching ext (default ".xml"), resets the
// queue, and enqueues tasks in lexicographic order (spec.md §4.7). Uses
// bitfield/script's glob listing rather than hand-rolled directory walking.
func (q *AccountQueue) Load(folder, ext string) (int, error) {
	if ext == "" {
		ext = ".xml"
	}
	pattern := filepath.Join(folder, "*"+ext)
	paths, err := script.ListFiles(pattern).Slice()
	if err != nil {
		return 0, fmt.Errorf("scan account folder: %w", err)
	}
	sort.Strings(paths)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = q.tasks[:0]
	q.index = make(map[string]*Task, len(paths))
	for _, p := range paths {
		t := &Task{Filename: filepath.Base(p), FilePath: p}
		q.tasks = append(q.tasks, t)
		q.index[t.Filename] = t
	}
	return len(q.tasks), nil
}

// Claim returns the first task that is neither processed nor already
// running on a device, stamping its RunningOnDevice with serial; the task
// stays in the queue. Returns nil if no such task is left.
func (q *AccountQueue) Claim(serial string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if !t.Processed && t.RunningOnDevice == "" {
			t.RunningOnDevice = serial
			return t
		}
	}
	return nil
}

// Complete marks filename done, clears RunningOnDevice, and records the
// outcome.
func (q *AccountQueue) Complete(filename string, success bool, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.index[filename]
	if !ok {
		return fmt.Errorf("account task %q not found", filename)
	}
	t.Processed = true
	t.Success = success
	t.ErrorMessage = errMsg
	t.RunningOnDevice = ""
	return nil
}

// ResetRunning clears RunningOnDevice on every incomplete task, for resume
// after a crash — it does not touch already-completed tasks.
func (q *AccountQueue) ResetRunning() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if !t.Processed {
			t.RunningOnDevice = ""
		}
	}
}

// ResetAll clears Processed/Success/ErrorMessage/RunningOnDevice on every
// task, for a full re-run of the same folder (SPEC_FULL.md D.4: distinct
// from ResetRunning's resume semantics).
func (q *AccountQueue) ResetAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		t.Processed = false
		t.Success = false
		t.ErrorMessage = ""
		t.RunningOnDevice = ""
	}
}

// MarkBugged deletes filename's file on disk and drops it from the queue
// if not yet processed (spec.md §4.7).
func (q *AccountQueue) MarkBugged(filename string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.index[filename]
	if !ok {
		return fmt.Errorf("account task %q not found", filename)
	}
	if err := os.Remove(t.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(q.index, filename)
	if !t.Processed {
		for i, other := range q.tasks {
			if other == t {
				q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Snapshot returns a read-only copy of every task, preserving order
// (spec.md §5: "read snapshots via copy").
func (q *AccountQueue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = *t
	}
	return out
}

// Counts returns (processedCount, total).
func (q *AccountQueue) Counts() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	processed := 0
	for _, t := range q.tasks {
		if t.Processed {
			processed++
		}
	}
	return processed, len(q.tasks)
}

package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"androidfleet/internal/cancel"
	"androidfleet/internal/config"
	"androidfleet/internal/device"
	"androidfleet/internal/imaging"
	"androidfleet/internal/models"
	"androidfleet/internal/queue"
	"androidfleet/internal/workflow"
)

// State is the Job's lifecycle position (spec.md §3).
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Settings are the post-processing knobs a run carries (spec.md §6).
type Settings struct {
	MoveOnComplete bool
	DoneFolder     string
}

// Job is the single process-wide multi-device run (spec.md §3, §9 "Single
// current job state"). At most one Job exists; Coordinator owns it
// exclusively with acquire/release via Start/Stop.
type Job struct {
	State      State
	FolderPath string
	Settings   Settings
	Workflow   *workflow.Workflow

	queue  *queue.AccountQueue
	token  *cancel.Token
	wg     sync.WaitGroup
	serials []string
}

// Snapshot is the read-only view API handlers and StatusBus observers see.
type Snapshot struct {
	State          State
	TotalAccounts  int
	ProcessedCount int
	SuccessCount   int
	ErrorCount     int
}

// Coordinator starts/stops/resumes the single Job and routes claims
// through AccountQueue to per-device workers (spec.md §4.8).
type Coordinator struct {
	mu          sync.Mutex
	job         *Job
	registry    *device.Registry
	repo        *workflow.Repo
	templates   *imaging.TemplateStore
	interpreter *workflow.Interpreter
	bus         *StatusBus
	cfg         config.Config
}

func NewCoordinator(registry *device.Registry, repo *workflow.Repo, templates *imaging.TemplateStore, interpreter *workflow.Interpreter, bus *StatusBus, cfg config.Config) *Coordinator {
	return &Coordinator{registry: registry, repo: repo, templates: templates, interpreter: interpreter, bus: bus, cfg: cfg}
}

// StartRequest names a run's inputs (spec.md §6 HTTP contract: "scan/start").
type StartRequest struct {
	Serials      []string
	FolderPath   string
	WorkflowID   *int64
	ModeName     string
	MonthYear    string
	Settings     Settings
}

// Start validates input, binds the workflow, and spawns one worker per
// serial (spec.md §4.8 steps 1-4). Non-blocking: it returns once workers
// are spawned, not once they finish.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil && c.job.State == StateRunning {
		return fmt.Errorf("a job is already running")
	}
	if len(req.Serials) == 0 {
		return fmt.Errorf("validation error: device list is empty")
	}
	for _, s := range req.Serials {
		dev, ok := c.registry.Get(s)
		if !ok {
			return fmt.Errorf("validation error: device %s unknown", s)
		}
		if dev.Status != models.StatusOnline {
			return fmt.Errorf("validation error: device %s is not online", s)
		}
	}

	var wf *workflow.Workflow
	var err error
	if req.WorkflowID != nil {
		wf, err = c.repo.Get(ctx, *req.WorkflowID)
	} else {
		wf, err = c.repo.ForMode(ctx, req.ModeName, req.MonthYear)
	}
	if err != nil {
		return fmt.Errorf("validation error: workflow not resolvable: %w", err)
	}
	templateExists := func(name string) bool {
		_, err := c.templates.Get(ctx, name)
		return err == nil
	}
	if err := workflow.Validate(wf, templateExists); err != nil {
		return err
	}

	q := queue.New()
	count, err := q.Load(req.FolderPath, c.cfg.AccountFileExtension)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	j := &Job{
		FolderPath: req.FolderPath,
		Settings:   req.Settings,
		Workflow:   wf,
		queue:      q,
		token:      cancel.New(),
		serials:    req.Serials,
	}
	c.job = j

	if count == 0 {
		j.State = StateCompleted
		c.bus.Publish("job_completed", c.snapshotLocked())
		return nil
	}

	j.State = StateRunning
	for _, serial := range req.Serials {
		j.wg.Add(1)
		go c.runWorker(ctx, j, serial)
	}
	go c.finalizeWhenDone(j)
	return nil
}

// Resume re-arms a stopped job's queue and spawns fresh workers with a new
// cancellation token — cancellation is monotonic, so stop's token can
// never be reused (spec.md §4.8 "Resume is equivalent to start with the
// same device list and existing queue").
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil {
		return fmt.Errorf("no job to resume")
	}
	if c.job.State == StateRunning {
		return fmt.Errorf("job already running")
	}

	j := c.job
	j.queue.ResetRunning()
	j.token = cancel.New()
	j.State = StateRunning

	for _, serial := range j.serials {
		j.wg.Add(1)
		go c.runWorker(ctx, j, serial)
	}
	go c.finalizeWhenDone(j)
	return nil
}

// Stop signals the shared cancellation token and blocks until every worker
// has exited (spec.md §8 invariant 6: "no DeviceChannel command is issued
// for any worker until start() is called again").
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	j := c.job
	c.mu.Unlock()

	if j == nil {
		return fmt.Errorf("no job running")
	}
	j.token.Cancel()
	j.wg.Wait()
	return nil
}

func (c *Coordinator) finalizeWhenDone(j *Job) {
	j.wg.Wait()

	c.mu.Lock()
	if c.job == j && j.State == StateRunning {
		j.State = StateCompleted
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bus.Publish("job_completed", snap)
}

func (c *Coordinator) runWorker(ctx context.Context, j *Job, serial string) {
	defer j.wg.Done()

	for {
		if j.token.Cancelled() {
			return
		}
		task := j.queue.Claim(serial)
		if task == nil {
			return
		}

		c.registry.SetRunning(serial, true, task.Filename)
		c.bus.Publish("account_started", map[string]string{"serial": serial, "filename": task.Filename})

		err := c.runOneAccount(ctx, j, serial, task)

		if err == workflow.ErrCancelled {
			j.queue.Complete(task.Filename, false, "cancelled")
			c.registry.SetRunning(serial, false, "")
			c.registry.IncrementCounters(serial, false)
			c.bus.Publish("account_done", map[string]interface{}{"serial": serial, "filename": task.Filename, "success": false, "error": "cancelled"})
			return
		}

		success := err == nil
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		j.queue.Complete(task.Filename, success, errMsg)
		c.registry.SetRunning(serial, false, "")
		c.registry.IncrementCounters(serial, success)
		c.postProcess(j, task.FilePath, success)
		c.bus.Publish("account_done", map[string]interface{}{"serial": serial, "filename": task.Filename, "success": success, "error": errMsg})

		if j.token.Cancelled() {
			return
		}
		if !j.token.Sleep(ctx, time.Duration(c.cfg.InterAccountDelaySeconds)*time.Second) {
			return
		}
	}
}

func (c *Coordinator) runOneAccount(ctx context.Context, j *Job, serial string, task *queue.Task) error {
	ch, ok := c.registry.Channel(serial)
	if !ok {
		return fmt.Errorf("device %s channel unavailable", serial)
	}

	data, err := os.ReadFile(task.FilePath)
	if err != nil {
		return fmt.Errorf("read account file: %w", err)
	}
	if err := ch.Push(ctx, data, c.cfg.AccountRemotePath); err != nil {
		return err
	}

	return c.interpreter.Run(ctx, j.Workflow, ch, j.token)
}

// postProcess moves a successful account file to done_folder, or leaves it
// in place on failure (spec.md §4.8 "Post-processing").
func (c *Coordinator) postProcess(j *Job, filePath string, success bool) {
	if !success || !j.Settings.MoveOnComplete {
		return
	}
	doneFolder := j.Settings.DoneFolder
	if doneFolder == "" {
		doneFolder = filepath.Join(j.FolderPath, "done")
	}
	if err := os.MkdirAll(doneFolder, 0755); err != nil {
		return
	}
	dest := filepath.Join(doneFolder, filepath.Base(filePath))
	os.Rename(filePath, dest)
}

// Snapshot returns the current job's progress view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	if c.job == nil {
		return Snapshot{State: StateIdle}
	}
	processed, total := c.job.queue.Counts()
	success, errs := 0, 0
	for _, t := range c.job.queue.Snapshot() {
		if !t.Processed {
			continue
		}
		if t.Success {
			success++
		} else {
			errs++
		}
	}
	return Snapshot{
		State:          c.job.State,
		TotalAccounts:  total,
		ProcessedCount: processed,
		SuccessCount:   success,
		ErrorCount:     errs,
	}
}

// MarkBugged deletes an account file irreversibly and drops it from the
// current job's queue if unprocessed (spec.md §4.7).
func (c *Coordinator) MarkBugged(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return fmt.Errorf("no job active")
	}
	return c.job.queue.MarkBugged(filename)
}

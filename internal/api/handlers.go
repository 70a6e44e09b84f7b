// Package api exposes the HTTP surface consumed by the front-end (spec.md
// §6): device listing/screenshots, multi-device scan/start/resume/stop,
// workflow CRUD, template capture, duplicate finder, account export.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"androidfleet/internal/batch"
	"androidfleet/internal/cancel"
	"androidfleet/internal/config"
	"androidfleet/internal/device"
	"androidfleet/internal/imaging"
	"androidfleet/internal/job"
	"androidfleet/internal/models"
	"androidfleet/internal/workflow"
)

// Handlers bundles every collaborator an HTTP handler needs.
type Handlers struct {
	Registry    *device.Registry
	Coordinator *job.Coordinator
	Repo        *workflow.Repo
	Templates   *imaging.TemplateStore
	Cfg         config.Config
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, models.SuccessResponse(data))
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, models.ErrorResponse(err.Error()))
}

// GetDevices returns the current DeviceRegistry snapshot.
func (h *Handlers) GetDevices(c *gin.Context) {
	ok(c, h.Registry.Snapshot())
}

// ScanDevices polls the bridge once and returns the refreshed snapshot.
func (h *Handlers) ScanDevices(c *gin.Context) {
	if err := h.Registry.Scan(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, h.Registry.Snapshot())
}

// Screenshot returns a live PNG for a serial. The request goes through the
// device's shared DeviceChannel, so it waits behind any job commands queued
// on that channel; there is no busy check or fail-fast path.
func (h *Handlers) Screenshot(c *gin.Context) {
	serial := c.Param("serial")
	ch, found := h.Registry.Channel(serial)
	if !found {
		fail(c, http.StatusNotFound, errDeviceNotFound(serial))
		return
	}
	raw, err := ch.Screenshot(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.Data(http.StatusOK, "image/png", raw)
}

// JobStart begins a multi-device run.
func (h *Handlers) JobStart(c *gin.Context) {
	var req struct {
		Serials        []string `json:"serials"`
		FolderPath     string   `json:"folder_path"`
		WorkflowID     *int64   `json:"workflow_id"`
		ModeName       string   `json:"mode_name"`
		MonthYear      string   `json:"month_year"`
		MoveOnComplete bool     `json:"move_on_complete"`
		DoneFolder     string   `json:"done_folder"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	err := h.Coordinator.Start(c.Request.Context(), job.StartRequest{
		Serials:    req.Serials,
		FolderPath: req.FolderPath,
		WorkflowID: req.WorkflowID,
		ModeName:   req.ModeName,
		MonthYear:  req.MonthYear,
		Settings:   job.Settings{MoveOnComplete: req.MoveOnComplete, DoneFolder: req.DoneFolder},
	})
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, h.Coordinator.Snapshot())
}

func (h *Handlers) JobResume(c *gin.Context) {
	if err := h.Coordinator.Resume(c.Request.Context()); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, h.Coordinator.Snapshot())
}

func (h *Handlers) JobStop(c *gin.Context) {
	if err := h.Coordinator.Stop(); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, h.Coordinator.Snapshot())
}

func (h *Handlers) JobStatus(c *gin.Context) {
	ok(c, h.Coordinator.Snapshot())
}

func (h *Handlers) MarkBugged(c *gin.Context) {
	filename := c.Param("filename")
	if err := h.Coordinator.MarkBugged(filename); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("marked bugged: "+filename))
}

// ListWorkflows / CreateWorkflow / SetMasterWorkflow implement the CRUD +
// set-master surface (spec.md §6).
func (h *Handlers) ListWorkflows(c *gin.Context) {
	list, err := h.Repo.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, list)
}

func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var w workflow.Workflow
	if err := c.ShouldBindJSON(&w); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	templateExists := func(name string) bool {
		_, err := h.Templates.Get(c.Request.Context(), name)
		return err == nil
	}
	if err := workflow.Validate(&w, templateExists); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	id, err := h.Repo.Create(c.Request.Context(), &w)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"id": id})
}

func (h *Handlers) SetMasterWorkflow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.Repo.SetMaster(c.Request.Context(), id); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("master workflow updated"))
}

// ExecuteWorkflow runs a workflow immediately against one device, bypassing
// AccountQueue — used by the front-end's "test run" action.
func (h *Handlers) ExecuteWorkflow(c *gin.Context) {
	serial := c.Param("serial")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ch, found := h.Registry.Channel(serial)
	if !found {
		fail(c, http.StatusNotFound, errDeviceNotFound(serial))
		return
	}
	wf, err := h.Repo.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	if err := ExecuteOnce(c.Request.Context(), h, wf, ch); err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("workflow executed"))
}

func (h *Handlers) ListTemplates(c *gin.Context) {
	list, err := h.Templates.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, list)
}

func (h *Handlers) CaptureTemplate(c *gin.Context) {
	var req struct {
		Serial string `json:"serial"`
		Name   string `json:"name"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ch, found := h.Registry.Channel(req.Serial)
	if !found {
		fail(c, http.StatusNotFound, errDeviceNotFound(req.Serial))
		return
	}
	t, err := h.Templates.Capture(c.Request.Context(), ch, req.Name, imaging.Region{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height})
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, t)
}

func (h *Handlers) FindDuplicates(c *gin.Context) {
	var req struct {
		FolderA string `json:"folder_a"`
		FolderB string `json:"folder_b"`
		DryRun  bool   `json:"dry_run"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	pairs, removed, err := batch.FindDuplicates(req.FolderA, req.FolderB, h.Cfg.AccountFileExtension, req.DryRun)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"duplicates": pairs, "removed_count": removed})
}

func (h *Handlers) ExportAccounts(c *gin.Context) {
	var req struct {
		Folder  string `json:"folder"`
		DestZip string `json:"dest_zip"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	n, err := batch.ExportAccounts(req.Folder, h.Cfg.AccountFileExtension, req.DestZip)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, gin.H{"exported_count": n})
}

func errDeviceNotFound(serial string) error {
	return &notFoundError{serial: serial}
}

type notFoundError struct{ serial string }

func (e *notFoundError) Error() string { return "device not found: " + e.serial }

// ExecuteOnce runs wf against ch outside of a Job/AccountQueue context,
// with its own throwaway cancellation token.
func ExecuteOnce(ctx context.Context, h *Handlers, wf *workflow.Workflow, ch workflow.Device) error {
	coldStart := time.Duration(h.Cfg.ColdStartSeconds) * time.Second
	interp := workflow.NewInterpreter(h.Templates, imaging.NewMatcher(), workflow.NullExtractor{}, h.Cfg.GamePackage, h.Cfg.AccountRemotePath, coldStart)
	return interp.Run(ctx, wf, ch, cancel.New())
}

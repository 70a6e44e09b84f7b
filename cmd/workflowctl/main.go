// Command workflowctl is a one-shot execution tool built on the interpreter
// (spec.md §6 "Exit codes"): run a single workflow against one or more
// devices without a running server, for scripted/CI use.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"androidfleet/internal/adb"
	"androidfleet/internal/cancel"
	"androidfleet/internal/config"
	"androidfleet/internal/imaging"
	"androidfleet/internal/logging"
	"androidfleet/internal/workflow"
)

const (
	exitAllSucceeded = 0
	exitSomeFailed   = 1
	exitInvalidInput = 2
	exitBridgeFailed = 3
)

func main() {
	var (
		workflowID int64
		serials    []string
	)

	root := &cobra.Command{
		Use:   "workflowctl",
		Short: "Run a workflow against one or more devices and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowID == 0 || len(serials) == 0 {
				fmt.Fprintln(os.Stderr, "workflowctl: --workflow and --device are required")
				os.Exit(exitInvalidInput)
			}
			os.Exit(run(workflowID, serials))
			return nil
		},
	}

	root.Flags().Int64Var(&workflowID, "workflow", 0, "workflow id to execute")
	root.Flags().StringSliceVar(&serials, "device", nil, "device serial (repeatable)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidInput)
	}
}

func run(workflowID int64, serials []string) int {
	cfg := config.FromEnv()

	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		return exitInvalidInput
	}
	defer db.Close()

	repo := workflow.NewRepo(db)
	ctx := context.Background()
	wf, err := repo.Get(ctx, workflowID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve workflow:", err)
		return exitInvalidInput
	}

	templates, err := imaging.NewTemplateStore(db, cfg.TemplatesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init template store:", err)
		return exitInvalidInput
	}
	templateExists := func(name string) bool {
		_, err := templates.Get(ctx, name)
		return err == nil
	}
	if err := workflow.Validate(wf, templateExists); err != nil {
		fmt.Fprintln(os.Stderr, "workflow load error:", err)
		return exitInvalidInput
	}

	transport := adb.New(cfg.ADBPath)
	matcher := imaging.NewMatcher()
	interpreter := workflow.NewInterpreter(templates, matcher, workflow.NullExtractor{}, cfg.GamePackage, cfg.AccountRemotePath, time.Duration(cfg.ColdStartSeconds)*time.Second)

	failures := 0
	bridgeFailure := false
	for _, serial := range serials {
		logging.Info("running workflow %d on %s", workflowID, serial)
		ch := adb.NewDeviceChannel(serial, transport, func(s string, err error) {
			logging.Warn("device %s went offline: %v", s, err)
		})

		err := interpreter.Run(ctx, wf, ch, cancel.New())
		ch.Close()

		if err == nil {
			continue
		}
		if _, ok := err.(*adb.BridgeError); ok {
			bridgeFailure = true
		}
		var stepErr *workflow.StepError
		if errAsStepError(err, &stepErr) {
			if _, isBridge := stepErr.Unwrap().(*adb.BridgeError); isBridge {
				bridgeFailure = true
			}
		}
		logging.Error("workflow failed on %s: %v", serial, err)
		failures++
	}

	if bridgeFailure {
		return exitBridgeFailed
	}
	if failures > 0 {
		return exitSomeFailed
	}
	return exitAllSucceeded
}

func errAsStepError(err error, target **workflow.StepError) bool {
	se, ok := err.(*workflow.StepError)
	if !ok {
		return false
	}
	*target = se
	return true
}


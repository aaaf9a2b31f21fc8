// Package app wires the importuser command with uber-fx and maps the outcome
// of a launch to a process exit code.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/s3"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/admin"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/lock"
	inframetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository"
	batchlistener "github.com/tigerroll/chunkflow/pkg/batch/listener"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	appJob "github.com/tigerroll/chunkflow/example/importuser/internal/job"
)

// Options describe one launch.
type Options struct {
	EmbeddedConfig config.EmbeddedConfig
	EnvFilePath    string
	// JobName overrides batch.job_name.
	JobName string
	Next    bool
	// Recover restarts an execution left running by a crashed process.
	Recover bool
	Params  model.JobParameters
	// Out receives the launch summary.
	Out io.Writer
}

const startStopTimeout = time.Minute

// Modules is the engine graph the importuser command runs on.
func Modules() fx.Option {
	return fx.Options(
		logger.Module,
		config.Module,

		gormadapter.Module,
		sqlite.Module,
		postgres.Module,
		mysql.Module,

		storage.Module,
		local.Module,
		gcs.Module,
		s3.Module,

		repository.Module,
		lock.Module,
		inframetrics.Module,
		batchlistener.Module,
		usecase.Module,
		admin.Module,

		appJob.Module,
	)
}

// Run starts the graph, launches one job and returns the exit code. When ctx
// is cancelled the running execution is asked to stop and Run waits for it to
// reach STOPPED.
func Run(ctx context.Context, opts Options) int {
	var (
		launcher *usecase.SimpleJobLauncher
		cfg      *config.Config
	)
	fxApp := fx.New(
		fx.Supply(
			opts.EmbeddedConfig,
			fx.Annotated{Name: "envFilePath", Target: opts.EnvFilePath},
		),
		Modules(),
		fx.Populate(&launcher, &cfg),
	)
	if err := fxApp.Err(); err != nil {
		logger.Errorf("Failed to build the application: %v", err)
		return model.ExitCodeLaunchError
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), startStopTimeout)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		logger.Errorf("Failed to start the application: %v", err)
		return model.ExitCodeLaunchError
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), startStopTimeout)
		defer cancelStop()
		if err := fxApp.Stop(stopCtx); err != nil {
			logger.Warnf("Application stop reported an error: %v", err)
		}
	}()

	jobName := opts.JobName
	if jobName == "" {
		jobName = cfg.Chunkflow.Batch.JobName
	}
	if jobName == "" {
		logger.Errorf("No job to launch: pass -job or set batch.job_name.")
		return model.ExitCodeLaunchError
	}
	params := opts.Params
	if params.Params == nil {
		params = model.NewJobParameters()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Warnf("Stop requested. Waiting for running executions to reach a chunk boundary...")
			launcher.StopAll(context.Background())
		case <-done:
		}
	}()

	logger.Infof("Launching job '%s' with parameters %s.", jobName, params)
	je, err := launcher.LaunchWithOptions(context.Background(), jobName, params, usecase.LaunchOptions{Next: opts.Next, RecoverStale: opts.Recover})
	code := ExitCode(je, err)
	if err != nil {
		logger.Errorf("Job '%s' was not launched: %v", jobName, err)
	}
	PrintSummary(opts.Out, jobName, je, code)
	return code
}

// ExitCode maps a launch result to the process exit code.
func ExitCode(je *model.JobExecution, err error) int {
	switch {
	case err == nil && je != nil:
		return model.ExitCodeForStatus(je.Status)
	case errors.Is(err, exception.ErrJobInstanceAlreadyComplete):
		return model.ExitCodeIdentityConflict
	case errors.Is(err, exception.ErrJobExecutionAlreadyRunning):
		return model.ExitCodeAlreadyRunning
	default:
		return model.ExitCodeLaunchError
	}
}

// PrintSummary writes the final status and exit code of a launch.
func PrintSummary(w io.Writer, jobName string, je *model.JobExecution, code int) {
	if w == nil {
		return
	}
	if je == nil {
		fmt.Fprintf(w, "Job: [%s] was not launched\nExitCode: %d\n", jobName, code)
		return
	}
	fmt.Fprintf(w, "Job: [%s] execution %s\nStatus: %s\nExitCode: %d\n", jobName, je.ID, je.Status, code)
	if je.ExitDescription != "" {
		fmt.Fprintf(w, "ExitDescription: %s\n", je.ExitDescription)
	}
}

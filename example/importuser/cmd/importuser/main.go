// Command importuser loads people from a CSV file into the people table.
//
//	importuser [-job importUserJob] [-next] [-recover] input.file=sample-data.csv [name(type)=value ...]
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkflow/example/importuser/internal/app"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("importuser", flag.ContinueOnError)
	jobName := fs.String("job", "", "job to launch (defaults to batch.job_name)")
	next := fs.Bool("next", false, "derive fresh parameters with the job's incrementer")
	recoverStale := fs.Bool("recover", false, "restart an execution left running by a crashed process")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: importuser [-job name] [-next] [-recover] name(type)=value ...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return model.ExitCodeLaunchError
	}
	params, err := model.ParseJobParameters(fs.Args())
	if err != nil {
		logger.Errorf("Invalid job parameters: %v", err)
		return model.ExitCodeLaunchError
	}

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, app.Options{
		EmbeddedConfig: config.EmbeddedConfig(embeddedConfig),
		EnvFilePath:    envFilePath,
		JobName:        *jobName,
		Next:           *next,
		Recover:        *recoverStale,
		Params:         params,
		Out:            os.Stdout,
	})
}

// Package job assembles importUserJob: a CSV import into the people table,
// optionally followed by a Parquet export of the imported rows.
package job

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	jobRepo "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/job"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	chunk "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/tigerroll/chunkflow/example/importuser/internal/domain"
	"github.com/tigerroll/chunkflow/example/importuser/internal/step"
)

const (
	JobName        = "importUserJob"
	ImportStepName = "importUserStep"
	ExportStepName = "exportPeopleStep"

	// InputParam names the CSV to import: a file path, or an object name when
	// the importUser component has a storage_ref.
	InputParam = "input.file"

	ImportComponent = "importUser"
	ExportComponent = "peopleExport"
)

// ImportProperties configures the CSV source and the people sink.
type ImportProperties struct {
	DBRef       string `mapstructure:"db_ref"`
	StorageRef  string `mapstructure:"storage_ref"`
	Bucket      string `mapstructure:"bucket"`
	LinesToSkip int    `mapstructure:"lines_to_skip"`
	Delimiter   string `mapstructure:"delimiter"`
}

// ExportProperties configures the optional export step.
type ExportProperties struct {
	Enabled  bool `mapstructure:"enabled"`
	PageSize int  `mapstructure:"page_size"`

	writer.ParquetWriterConfig `mapstructure:",squash"`
}

// Dependencies are the engine services the job is built on.
type Dependencies struct {
	Config      *config.Config
	Repository  jobRepo.JobRepository
	Checkpoints jobRepo.ExecutionContextStore
	DB          database.DBConnectionResolver
	Storage     storage.StorageConnectionResolver
	TxManagers  TransactionManagerFactory
	Listeners   *logging.Listeners
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// TransactionManagerFactory builds a transaction manager for a named connection.
type TransactionManagerFactory interface {
	NewTransactionManager(dbName string) tx.TransactionManager
}

// LoadImportProperties decodes the importUser component, defaulting db_ref to
// the job repository connection and then to "main".
func LoadImportProperties(cfg *config.Config) (ImportProperties, error) {
	props := ImportProperties{Delimiter: ","}
	if err := config.DecodeComponentProperties(cfg, ImportComponent, &props); err != nil {
		return props, err
	}
	if props.DBRef == "" {
		props.DBRef = cfg.Chunkflow.Infrastructure.JobRepository.DBRef
	}
	if props.DBRef == "" {
		props.DBRef = "main"
	}
	if utf8.RuneCountInString(props.Delimiter) != 1 {
		return props, fmt.Errorf("%s.delimiter must be a single character, got %q", ImportComponent, props.Delimiter)
	}
	return props, nil
}

// NewImportUserJob builds the job from configuration.
func NewImportUserJob(d Dependencies) (*job.SimpleJob, error) {
	props, err := LoadImportProperties(d.Config)
	if err != nil {
		return nil, err
	}
	var export ExportProperties
	if err := config.DecodeComponentProperties(d.Config, ExportComponent, &export); err != nil {
		return nil, err
	}

	stepOpts := append([]chunk.Option{
		chunk.WithBatchConfig(d.Config.Chunkflow.Batch),
		chunk.WithCheckpointStore(d.Checkpoints),
		chunk.WithMetricRecorder(d.Recorder),
		chunk.WithTracer(d.Tracer),
	}, d.Listeners.StepOptions()...)

	delimiter, _ := utf8.DecodeRuneInString(props.Delimiter)
	importStep := chunk.NewChunkStep[domain.Person, domain.Person](
		ImportStepName,
		reader.NewFlatFileItemReader("personReader", inputSource(props, d.Storage), step.MapPerson,
			reader.WithLinesToSkip(props.LinesToSkip), reader.WithDelimiter(delimiter)),
		step.NewPersonItemProcessor(),
		writer.NewUpsertWriter[domain.Person]("personWriter", "", []string{"first_name", "last_name"}, nil, 0),
		d.Repository,
		append(stepOpts, chunk.WithTransactionManager(d.TxManagers.NewTransactionManager(props.DBRef)))...,
	)
	steps := []port.Step{importStep}

	if export.Enabled {
		parquet, err := writer.NewParquetWriter("peopleParquetWriter", export.ParquetWriterConfig, d.Storage, partitionByInitial)
		if err != nil {
			return nil, err
		}
		steps = append(steps, chunk.NewChunkStep[domain.Person, domain.PersonRecord](
			ExportStepName,
			reader.NewPagingItemReader[domain.Person](d.DB, props.DBRef, "peopleReader", nil, "id", export.PageSize),
			item.ProcessorFunc[domain.Person, domain.PersonRecord](func(ctx context.Context, p domain.Person) (domain.PersonRecord, error) {
				return domain.NewPersonRecord(p), nil
			}),
			parquet,
			d.Repository,
			stepOpts...,
		))
	}

	inc, err := incrementer.ForName(d.Config.Chunkflow.Batch.Incrementer)
	if err != nil {
		return nil, err
	}
	jobOpts := append([]job.Option{
		job.WithListenerErrorPolicy(job.ParseListenerErrorPolicy(d.Config.Chunkflow.Batch.ListenerErrors)),
		job.WithJobListener(NewPeopleCountListener(d.DB, props.DBRef)),
		job.WithMetricRecorder(d.Recorder),
		job.WithTracer(d.Tracer),
	}, d.Listeners.JobOptions()...)
	if inc != nil {
		jobOpts = append(jobOpts, job.WithIncrementer(inc))
	}
	return job.NewSimpleJob(JobName, d.Repository, steps, jobOpts...), nil
}

func partitionByInitial(r domain.PersonRecord) (string, error) {
	return "initial=" + r.Initial, nil
}

// inputSource resolves the InputParam job parameter when the reader opens.
func inputSource(props ImportProperties, resolver storage.StorageConnectionResolver) reader.Source {
	return func(ctx context.Context) (io.ReadCloser, error) {
		se := port.StepExecutionFromContext(ctx)
		if se == nil || se.JobExecution == nil {
			return nil, fmt.Errorf("no step execution in context")
		}
		name, ok := se.JobExecution.Parameters.GetString(InputParam)
		if !ok || name == "" {
			return nil, exception.NewBatchErrorf(JobName, exception.ErrInvalidJobParameters, "job parameter '%s' is required", InputParam)
		}
		if props.StorageRef != "" {
			return reader.StorageSource(resolver, props.StorageRef, props.Bucket, name)(ctx)
		}
		return reader.FileSource(name)(ctx)
	}
}

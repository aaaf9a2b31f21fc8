// Package incrementer derives fresh JobParameters from the last launched set so
// that a job can be run again under a new JobInstance.
package incrementer

import (
	"fmt"
	"strings"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const (
	// DefaultRunIDKey is the parameter maintained by RunIDIncrementer.
	DefaultRunIDKey = "run.id"
	// DefaultTimestampKey is the parameter maintained by TimestampIncrementer.
	DefaultTimestampKey = "time"
)

// RunIDIncrementer sets the run id parameter to 1, or increments it when present.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a RunIDIncrementer for the parameter name
// (DefaultRunIDKey when empty).
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = DefaultRunIDKey
	}
	return &RunIDIncrementer{name: name}
}

// GetNext returns a copy of params with the run id advanced.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params.Copy()
	current, ok := params.GetInt64(i.name)
	if !ok {
		next.Put(i.name, int64(1))
		logger.Debugf("RunIDIncrementer: '%s' not found, setting to 1.", i.name)
		return next
	}
	next.Put(i.name, current+1)
	logger.Debugf("RunIDIncrementer: incrementing '%s' from %d to %d.", i.name, current, current+1)
	return next
}

func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

// ForName returns the incrementer configured by name: "run_id" (or
// "runIdIncrementer") and "timestamp" (or "timestampIncrementer"). An empty
// name yields nil.
func ForName(name string) (port.JobParametersIncrementer, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "run_id", "runid", "runidincrementer":
		return NewRunIDIncrementer(""), nil
	case "timestamp", "timestampincrementer":
		return NewTimestampIncrementer(""), nil
	default:
		return nil, fmt.Errorf("unknown job parameters incrementer %q", name)
	}
}

var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)

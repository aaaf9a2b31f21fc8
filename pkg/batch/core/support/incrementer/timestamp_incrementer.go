package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// TimestampIncrementer stores the current Unix time in milliseconds. The value
// always exceeds the previous one, even for launches within the same millisecond.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a TimestampIncrementer for the parameter name
// (DefaultTimestampKey when empty).
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = DefaultTimestampKey
	}
	return &TimestampIncrementer{name: name, now: time.Now}
}

func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := params.Copy()
	ts := i.now().UnixMilli()
	if prev, ok := params.GetInt64(i.name); ok && prev >= ts {
		ts = prev + 1
	}
	next.Put(i.name, ts)
	logger.Debugf("TimestampIncrementer: setting '%s' to %d.", i.name, ts)
	return next
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)

// Package step holds the item-level pieces of the import job.
package step

import (
	"context"
	"errors"
	"fmt"
	"strings"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkflow/example/importuser/internal/domain"
)

// ErrInvalidPerson marks a record that cannot become a Person. It is
// registered as the error kind "InvalidPerson" for the skip policy.
var ErrInvalidPerson = errors.New("InvalidPerson")

func init() {
	exception.RegisterErrorType("InvalidPerson", ErrInvalidPerson)
}

// MapPerson maps a firstName,lastName record. Blank rows map to a zero Person
// and are filtered by the processor.
func MapPerson(fields []string, line int) (domain.Person, error) {
	switch len(fields) {
	case 1:
		if strings.TrimSpace(fields[0]) == "" {
			return domain.Person{}, nil
		}
	case 2:
		return domain.Person{FirstName: fields[0], LastName: fields[1]}, nil
	}
	return domain.Person{}, fmt.Errorf("%w: expected firstName,lastName but got %d fields", ErrInvalidPerson, len(fields))
}

// PersonItemProcessor upper-cases both names. Rows whose names are both
// blank are filtered; a row with only one name is invalid.
type PersonItemProcessor struct{}

func NewPersonItemProcessor() *PersonItemProcessor {
	return &PersonItemProcessor{}
}

func (p *PersonItemProcessor) Process(ctx context.Context, person domain.Person) (domain.Person, error) {
	first := strings.ToUpper(strings.TrimSpace(person.FirstName))
	last := strings.ToUpper(strings.TrimSpace(person.LastName))
	switch {
	case first == "" && last == "":
		return domain.Person{}, port.ErrFilterItem
	case first == "" || last == "":
		return domain.Person{}, fmt.Errorf("%w: %q %q", ErrInvalidPerson, person.FirstName, person.LastName)
	}
	out := domain.Person{FirstName: first, LastName: last}
	logger.Debugf("Converting (%s %s) into (%s %s)", person.FirstName, person.LastName, out.FirstName, out.LastName)
	return out, nil
}

var _ port.ItemProcessor[domain.Person, domain.Person] = (*PersonItemProcessor)(nil)

package step_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/tigerroll/chunkflow/example/importuser/internal/domain"
	"github.com/tigerroll/chunkflow/example/importuser/internal/step"
)

func TestPersonItemProcessor(t *testing.T) {
	p := step.NewPersonItemProcessor()
	ctx := context.Background()

	out, err := p.Process(ctx, domain.Person{FirstName: "ann", LastName: " lee "})
	require.NoError(t, err)
	assert.Equal(t, domain.Person{FirstName: "ANN", LastName: "LEE"}, out)

	_, err = p.Process(ctx, domain.Person{FirstName: " ", LastName: ""})
	assert.True(t, errors.Is(err, port.ErrFilterItem))

	_, err = p.Process(ctx, domain.Person{FirstName: "bo"})
	assert.True(t, errors.Is(err, step.ErrInvalidPerson))
	assert.True(t, exception.IsErrorOfType(err, "InvalidPerson"))
}

func TestMapPerson(t *testing.T) {
	p, err := step.MapPerson([]string{"Jill", "Doe"}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Person{FirstName: "Jill", LastName: "Doe"}, p)

	p, err = step.MapPerson([]string{" "}, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Person{}, p)

	_, err = step.MapPerson([]string{"a", "b", "c"}, 3)
	assert.True(t, errors.Is(err, step.ErrInvalidPerson))
}

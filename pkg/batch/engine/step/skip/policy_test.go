package skip_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
)

func TestSkipPolicy(t *testing.T) {
	_, numErr := strconv.Atoi("x")
	p := skip.NewSkipPolicy(2, []string{"*strconv.NumError"})

	assert.True(t, p.ShouldSkip(numErr))
	assert.False(t, p.ShouldSkip(errors.New("boom")))
	assert.True(t, p.CanSkip(0))
	assert.True(t, p.CanSkip(1))
	assert.False(t, p.CanSkip(2))
	assert.Equal(t, 2, p.GetSkipLimit())
}

func TestSkipPolicy_ZeroLimitDisablesSkipping(t *testing.T) {
	_, numErr := strconv.Atoi("x")
	p := skip.NewSkipPolicy(0, []string{"*strconv.NumError"})

	assert.False(t, p.ShouldSkip(numErr))
	assert.False(t, p.CanSkip(0))
}

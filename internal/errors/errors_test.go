package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/fogctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestFactoryMessages(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidMode)
	assert.Equal(t, errors.ErrInvalidMode, err.Code())
	assert.Equal(t, "Operation not allowed in the current system mode", err.Error())

	custom := errFactory.WithMessage(errors.ErrInvalidMode, "switch to manual mode first")
	assert.Equal(t, "switch to manual mode first", custom.Error())
	assert.Equal(t, "switch to manual mode first", custom.Message())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := errors.New().Wrap(errors.ErrStoreUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "Telemetry store unavailable", err.Message())
}

func TestCodeOf(t *testing.T) {
	inner := errors.New().New(errors.ErrClockAnomaly)
	wrapped := fmt.Errorf("trend tick: %w", inner)

	assert.Equal(t, errors.ErrClockAnomaly, errors.CodeOf(wrapped))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(fmt.Errorf("plain")))
	assert.True(t, errors.HasCode(wrapped, errors.ErrClockAnomaly))
	assert.False(t, errors.HasCode(wrapped, errors.ErrInvalidMode))
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := errors.New().New(errors.ErrInvalidMode)
	err := errors.New().WithMessage(errors.ErrInvalidMode, "system is in auto mode")

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, errors.New().New(errors.ErrNotFound)))
}

func TestWithData(t *testing.T) {
	err := errors.New().WithData(errors.ErrInvalidArgument, "gpu_id out of range")
	assert.Equal(t, "gpu_id out of range", err.GetData())
	assert.Equal(t, "Invalid argument provided: gpu_id out of range", err.Error())
}

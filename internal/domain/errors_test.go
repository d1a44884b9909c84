package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	all := []error{
		ErrEmergencyStop, ErrBlastRadiusExceeded, ErrTimeout, ErrInvalidDependency,
		ErrCyclicDependency, ErrUnknownService, ErrCacheMiss, ErrProviderUnavailable,
		ErrSnapshotNotFound, ErrChecksumMismatch, ErrNoRollbackTarget, ErrRollbackActive,
		ErrRollbackNotFound, ErrRollbackNotCancellable, ErrContainerNotFound,
	}

	for i, a := range all {
		for j, b := range all {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
}

func TestWrappedErrors(t *testing.T) {
	err := fmt.Errorf("load table: %w", ErrCyclicDependency)
	assert.ErrorIs(t, err, ErrCyclicDependency)
	assert.NotErrorIs(t, err, ErrInvalidDependency)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "emergency stop is active", ErrEmergencyStop.Error())
	assert.Equal(t, "blast radius exceeded", ErrBlastRadiusExceeded.Error())
	assert.Equal(t, "operation timed out", ErrTimeout.Error())
	assert.Equal(t, "rollback already active for service", ErrRollbackActive.Error())
}

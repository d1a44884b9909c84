package domain

import "errors"

var (
	// ErrEmergencyStop is returned when the emergency stop is active
	ErrEmergencyStop = errors.New("emergency stop is active")

	// ErrBlastRadiusExceeded is returned when blast radius validation fails
	ErrBlastRadiusExceeded = errors.New("blast radius exceeded")

	// ErrTimeout is returned when an operation exceeds its timeout
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidDependency is returned when a dependency table entry fails validation
	ErrInvalidDependency = errors.New("invalid dependency")

	// ErrCyclicDependency is returned when the dependency table contains a cycle
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnknownService is returned for services absent from the dependency graph
	ErrUnknownService = errors.New("unknown service")

	// ErrCacheMiss is returned when a cache key is absent or expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrProviderUnavailable is returned when no health score can be obtained
	ErrProviderUnavailable = errors.New("health score provider unavailable")

	// ErrSnapshotNotFound is returned when a snapshot ID is not found
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrChecksumMismatch is returned when a snapshot fails checksum verification
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

	// ErrNoRollbackTarget is returned when no rollback-safe snapshot exists
	ErrNoRollbackTarget = errors.New("no rollback-safe snapshot available")

	// ErrRollbackActive is returned when a service already has an active rollback
	ErrRollbackActive = errors.New("rollback already active for service")

	// ErrRollbackNotFound is returned when a rollback ID is not found
	ErrRollbackNotFound = errors.New("rollback not found")

	// ErrRollbackNotCancellable is returned when a rollback has already started or finished
	ErrRollbackNotCancellable = errors.New("rollback cannot be cancelled")

	// ErrContainerNotFound is returned when no container backs a service
	ErrContainerNotFound = errors.New("container not found")
)

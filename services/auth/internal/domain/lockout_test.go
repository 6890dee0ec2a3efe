package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailedAttempt_LocksAtThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := &User{}

	for i := 1; i < MaxFailedAttempts; i++ {
		locked := RecordFailedAttempt(u, now)
		assert.False(t, locked, "attempt %d must not lock", i)
		assert.Equal(t, i, u.FailedLoginAttempts)
		assert.Nil(t, u.AccountLockedUntil)
	}

	locked := RecordFailedAttempt(u, now)
	assert.True(t, locked)
	require.NotNil(t, u.AccountLockedUntil)
	assert.Equal(t, now.Add(LockDuration), *u.AccountLockedUntil)
}

func TestClearLockout(t *testing.T) {
	until := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	u := &User{FailedLoginAttempts: 5, AccountLockedUntil: &until}

	ClearLockout(u)

	assert.Zero(t, u.FailedLoginAttempts)
	assert.Nil(t, u.AccountLockedUntil)
}

func TestIsLockedAndLockExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Minute)
	u := &User{AccountLockedUntil: &until}

	assert.True(t, u.IsLocked(now))
	assert.False(t, LockExpired(u, now))

	later := now.Add(31 * time.Minute)
	assert.False(t, u.IsLocked(later))
	assert.True(t, LockExpired(u, later))

	assert.False(t, (&User{}).IsLocked(now))
	assert.False(t, LockExpired(&User{}, now))
}

package domain

import "time"

// Lockout policy. The transitions below must be applied inside the same
// transaction as the password-check outcome so two concurrent failures cannot
// both slip past the threshold without locking.
const (
	MaxFailedAttempts = 5
	LockDuration      = 30 * time.Minute
)

// RecordFailedAttempt increments the failure counter and, once the threshold
// is reached, sets the lock. It returns true when this attempt locked the
// account.
func RecordFailedAttempt(u *User, now time.Time) bool {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= MaxFailedAttempts {
		until := now.Add(LockDuration)
		u.AccountLockedUntil = &until
		return true
	}
	return false
}

// ClearLockout resets the failure counter and removes any lock. Applied on
// successful credential validation and on lock expiry.
func ClearLockout(u *User) {
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
}

// LockExpired reports whether a lock exists but has already passed.
func LockExpired(u *User, now time.Time) bool {
	return u.AccountLockedUntil != nil && !u.AccountLockedUntil.After(now)
}

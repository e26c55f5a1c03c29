package store

import (
	"fmt"
	"time"
)

// Pipeline lock operations. The lock is advisory: mutual exclusion is
// enforced only by the conditional updates below, single holder, time-boxed
// so a holder that dies without releasing cannot wedge the transcript.

// AcquireLock tries to take the pipeline lock for a transcript. It succeeds
// when no lock exists or the existing lock is older than staleAfter. Returns
// false without error on contention.
func (s *Store) AcquireLock(transcriptID, holder string, staleAfter time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.db.Exec(`
	UPDATE transcripts
	SET lock_holder = ?, lock_acquired_at = ?, updated_at = ?
	WHERE transcript_id = ?
	  AND (lock_holder IS NULL OR lock_acquired_at < ?)`,
		holder, time.Now().UTC(), time.Now().UTC(), transcriptID, cutoff)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLock clears the lock if it is still held by holder. Releasing a
// lock that was taken over after going stale is a no-op.
func (s *Store) ReleaseLock(transcriptID, holder string) error {
	_, err := s.db.Exec(`
	UPDATE transcripts
	SET lock_holder = NULL, lock_acquired_at = NULL, updated_at = ?
	WHERE transcript_id = ? AND lock_holder = ?`,
		time.Now().UTC(), transcriptID, holder)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ReleaseStaleLocks clears every lock older than staleAfter and returns how
// many rows were touched.
func (s *Store) ReleaseStaleLocks(staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.db.Exec(`
	UPDATE transcripts
	SET lock_holder = NULL, lock_acquired_at = NULL, updated_at = ?
	WHERE lock_holder IS NOT NULL AND lock_acquired_at < ?`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	return res.RowsAffected()
}

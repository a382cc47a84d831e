package dao

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utskick/utskick"
)

func setup(t *testing.T) DAO {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "utskick.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func pendingCount(t *testing.T, db DAO) int {
	t.Helper()
	stats, err := db.Stats()
	require.NoError(t, err)
	for _, sc := range stats {
		if sc.Status == utskick.StatusPending {
			return sc.Count
		}
	}
	return 0
}

func TestEnqueueShowsUpInStats(t *testing.T) {
	db := setup(t)

	msg := utskick.NewMessage("member@example.com", "welcome", "<p>hi</p>")
	require.NoError(t, db.Enqueue(msg))

	assert.Equal(t, 1, pendingCount(t, db))

	got, err := db.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.LastAttempt)
}

func TestEnqueueManyIsAllOrNothing(t *testing.T) {
	db := setup(t)

	var msgs []utskick.QueuedMessage
	for _, to := range []string{"a@x.com", "b@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		msg := utskick.NewMessage(to, "news", "<p>news</p>")
		msg.CampaignId = "campaign-1"
		msgs = append(msgs, msg)
	}

	// the duplicate recipient trips the unique (campaign, recipient) index on
	// the third insert, the first two must roll back with it
	err := db.EnqueueMany(msgs)
	require.Error(t, err)

	assert.Equal(t, 0, pendingCount(t, db))
}

func TestEnqueueManyEmpty(t *testing.T) {
	db := setup(t)
	err := db.EnqueueMany(nil)
	assert.ErrorIs(t, err, utskick.ErrInvalidArgument)
}

func enqueueN(t *testing.T, db DAO, n int) []utskick.QueuedMessage {
	t.Helper()
	base := time.Now().In(time.UTC).Add(-time.Hour)
	var msgs []utskick.QueuedMessage
	for i := 0; i < n; i++ {
		msg := utskick.NewMessage(fmt.Sprintf("rcpt%d@example.com", i), "subject", "body")
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, db.Enqueue(msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestClaimBatchIsFIFOAndBounded(t *testing.T) {
	db := setup(t)
	msgs := enqueueN(t, db, 15)

	claimed, err := db.ClaimBatch("proc-1", 10, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 10)

	for i, msg := range claimed {
		assert.Equal(t, msgs[i].Id, msg.Id, "claim order should follow created_at")
	}
}

func TestClaimBatchDoesNotDoubleClaim(t *testing.T) {
	db := setup(t)
	enqueueN(t, db, 8)

	first, err := db.ClaimBatch("proc-1", 5, 2*time.Minute)
	require.NoError(t, err)
	second, err := db.ClaimBatch("proc-2", 5, 2*time.Minute)
	require.NoError(t, err)

	assert.Len(t, first, 5)
	assert.Len(t, second, 3)

	seen := map[string]bool{}
	for _, msg := range append(first, second...) {
		assert.False(t, seen[msg.Id], "message %s claimed twice", msg.Id)
		seen[msg.Id] = true
	}
}

func TestClaimBatchConcurrent(t *testing.T) {
	db := setup(t)
	enqueueN(t, db, 20)

	var mu sync.Mutex
	var wg sync.WaitGroup
	claims := map[string]int{}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := db.ClaimBatch(fmt.Sprintf("proc-%d", i), 10, 2*time.Minute)
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, msg := range claimed {
				claims[msg.Id]++
			}
		}(i)
	}
	wg.Wait()

	for id, n := range claims {
		assert.Equal(t, 1, n, "message %s claimed by %d invocations", id, n)
	}
	assert.Len(t, claims, 20)
}

func TestClaimLeaseExpires(t *testing.T) {
	db := setup(t)
	enqueueN(t, db, 1)

	first, err := db.ClaimBatch("proc-1", 10, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// live lease, nothing to claim
	second, err := db.ClaimBatch("proc-2", 10, 2*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)

	// zero lease means every claim has already expired
	third, err := db.ClaimBatch("proc-3", 10, 0)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestFinishAttemptFailThenSucceed(t *testing.T) {
	db := setup(t)
	msgs := enqueueN(t, db, 1)
	id := msgs[0].Id

	claimed, err := db.ClaimBatch("proc-1", 1, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	status, attempts := utskick.Transition(claimed[0].Status, claimed[0].Attempts, utskick.OutcomeFailed)
	require.NoError(t, db.FinishAttempt(id, "proc-1", status, attempts, time.Now()))

	got, err := db.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.LastAttempt)

	claimed, err = db.ClaimBatch("proc-2", 1, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	status, attempts = utskick.Transition(claimed[0].Status, claimed[0].Attempts, utskick.OutcomeDelivered)
	require.NoError(t, db.FinishAttempt(id, "proc-2", status, attempts, time.Now()))

	got, err = db.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts, "a successful attempt does not count")
}

func TestExhaustedMessageIsNeverClaimedAgain(t *testing.T) {
	db := setup(t)
	msgs := enqueueN(t, db, 1)
	id := msgs[0].Id

	for i := 0; i < utskick.MaxAttempts; i++ {
		token := fmt.Sprintf("proc-%d", i)
		claimed, err := db.ClaimBatch(token, 1, 2*time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d should find the message", i+1)

		status, attempts := utskick.Transition(claimed[0].Status, claimed[0].Attempts, utskick.OutcomeFailed)
		require.NoError(t, db.FinishAttempt(id, token, status, attempts, time.Now()))
	}

	got, err := db.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusFailed, got.Status)
	assert.Equal(t, utskick.MaxAttempts, got.Attempts)

	claimed, err := db.ClaimBatch("proc-final", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed, "failed message must not be selected by a later invocation")
}

func TestFinishAttemptRequiresClaim(t *testing.T) {
	db := setup(t)
	msgs := enqueueN(t, db, 1)
	id := msgs[0].Id

	_, err := db.ClaimBatch("proc-1", 1, 2*time.Minute)
	require.NoError(t, err)

	err = db.FinishAttempt(id, "someone-else", utskick.StatusSent, 0, time.Now())
	assert.ErrorIs(t, err, ErrNotClaimed)

	got, err := db.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusPending, got.Status)
}

func TestFinishAttemptNeverTouchesTerminalRows(t *testing.T) {
	db := setup(t)
	msgs := enqueueN(t, db, 1)
	id := msgs[0].Id

	_, err := db.ClaimBatch("proc-1", 1, 2*time.Minute)
	require.NoError(t, err)
	require.NoError(t, db.FinishAttempt(id, "proc-1", utskick.StatusSent, 0, time.Now()))

	err = db.FinishAttempt(id, "proc-1", utskick.StatusFailed, 1, time.Now())
	assert.ErrorIs(t, err, ErrNotClaimed)

	got, err := db.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, utskick.StatusSent, got.Status)
}

func TestResolverSourceReads(t *testing.T) {
	db := setup(t)
	lite := db.(*sqlite)

	_, err := lite.db.Exec(`INSERT INTO users(email) VALUES ('a@x.com'), ('b@x.com'), ('a@x.com')`)
	require.NoError(t, err)
	_, err = lite.db.Exec(`INSERT INTO event_registrations(event_id, email) VALUES ('spring-gala', 'b@x.com'), ('spring-gala', 'c@x.com')`)
	require.NoError(t, err)
	_, err = lite.db.Exec(`INSERT INTO contact_submissions(email, message) VALUES ('d@x.com', 'hello')`)
	require.NoError(t, err)

	users, err := db.UserEmails()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, users, "source reads are DISTINCT")

	registrants, err := db.RegistrantEmails()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b@x.com", "c@x.com"}, registrants)

	submitters, err := db.SubmitterEmails()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d@x.com"}, submitters)
}

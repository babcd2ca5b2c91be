package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/hackgrid/internal/testutil"
)

func TestIssueAndValidate(t *testing.T) {
	clk := testutil.NewClock(testutil.T0)
	m := NewManager(clk, time.Hour)

	info, err := m.Issue(7, "neo")
	require.NoError(t, err)
	require.NotEmpty(t, info.Token)

	got := m.Validate(info.Token)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.PlayerID)
	assert.Equal(t, "neo", got.Login)

	assert.Nil(t, m.Validate("bogus"))
}

func TestExpiryRemovesSession(t *testing.T) {
	clk := testutil.NewClock(testutil.T0)
	m := NewManager(clk, time.Hour)

	info, err := m.Issue(7, "neo")
	require.NoError(t, err)

	clk.Advance(time.Hour + time.Second)
	assert.Nil(t, m.Validate(info.Token))
	assert.Equal(t, 0, m.Count())
}

func TestReissueRevokesPrevious(t *testing.T) {
	clk := testutil.NewClock(testutil.T0)
	m := NewManager(clk, time.Hour)

	first, err := m.Issue(7, "neo")
	require.NoError(t, err)
	second, err := m.Issue(7, "neo")
	require.NoError(t, err)

	assert.Nil(t, m.Validate(first.Token), "old token must be revoked")
	assert.NotNil(t, m.Validate(second.Token))
	assert.Equal(t, 1, m.Count())
}

func TestRevoke(t *testing.T) {
	clk := testutil.NewClock(testutil.T0)
	m := NewManager(clk, time.Hour)

	info, err := m.Issue(7, "neo")
	require.NoError(t, err)
	m.Revoke(info.Token)
	assert.Nil(t, m.Validate(info.Token))
}

func TestCleanExpired(t *testing.T) {
	clk := testutil.NewClock(testutil.T0)
	m := NewManager(clk, time.Hour)

	_, err := m.Issue(1, "a")
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	fresh, err := m.Issue(2, "b")
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	m.CleanExpired()

	assert.Equal(t, 1, m.Count())
	assert.NotNil(t, m.Validate(fresh.Token))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

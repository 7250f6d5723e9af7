// ABOUTME: Tests for the SQLite credential store.
// ABOUTME: Covers project creation, lookup, rotation, and duplicate handling.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakhq/oak-relay/internal/auth"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCreds(t *testing.T) auth.Credentials {
	t.Helper()
	creds, err := auth.GenerateCredentials()
	require.NoError(t, err)
	return creds
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	creds := testCreds(t)

	created, err := s.CreateProject(ctx, "demo", creds)
	require.NoError(t, err)
	assert.Equal(t, "demo", created.ID)

	got, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, creds.RelayToken, got.Credentials.RelayToken)
	assert.Equal(t, creds.AgentToken, got.Credentials.AgentToken)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateProjectDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, "demo", testCreds(t))
	require.NoError(t, err)

	_, err = s.CreateProject(ctx, "demo", testCreds(t))
	assert.ErrorIs(t, err, ErrProjectExists)
}

func TestRotateCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testCreds(t)
	_, err := s.CreateProject(ctx, "demo", first)
	require.NoError(t, err)

	second := testCreds(t)
	rotated, err := s.RotateCredentials(ctx, "demo", second)
	require.NoError(t, err)
	assert.Equal(t, second.RelayToken, rotated.Credentials.RelayToken)
	assert.NotEqual(t, first.RelayToken, rotated.Credentials.RelayToken)

	_, err = s.RotateCredentials(ctx, "missing", testCreds(t))
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestListProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, "alpha", testCreds(t))
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, "beta", testCreds(t))
	require.NoError(t, err)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].ID)
	assert.Equal(t, "beta", projects[1].ID)
}

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/utils/password"
)

func useStore(t *testing.T, store storage.UserStore) {
	t.Helper()
	prev := openUsers
	openUsers = func(context.Context) (storage.UserStore, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openUsers = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateAdmin(t *testing.T) {
	store := memory.New()
	useStore(t, store)

	out, err := run(t, "create-admin", "alice", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin alice")

	u, err := store.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.True(t, password.CheckPasswordHash("secret123", u.PasswordHash))

	_, err = run(t, "create-admin", "alice", "another1")
	assert.EqualError(t, err, "user alice already exists")
}

func TestCreateRegularUser(t *testing.T) {
	store := memory.New()
	useStore(t, store)

	out, err := run(t, "create-admin", "bob", "secret123", "--no-admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user bob")

	u, err := store.GetUserByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, u.IsAdmin)
}

func TestCreateAdminValidatesInput(t *testing.T) {
	useStore(t, memory.New())

	_, err := run(t, "create-admin", "al", "secret123")
	assert.Error(t, err)

	_, err = run(t, "create-admin", "alice", "123")
	assert.Error(t, err)

	_, err = run(t, "create-admin", "alice")
	assert.Error(t, err)
}

func TestListAndDeleteUsers(t *testing.T) {
	store := memory.New()
	useStore(t, store)

	out, err := run(t, "list-users")
	require.NoError(t, err)
	assert.Contains(t, out, "No users")

	_, err = run(t, "create-admin", "alice", "secret123")
	require.NoError(t, err)
	_, err = run(t, "create-admin", "bob", "secret123", "--no-admin")
	require.NoError(t, err)

	out, err = run(t, "list-users")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")

	out, err = run(t, "delete-user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted bob")

	_, err = run(t, "delete-user", "bob")
	assert.EqualError(t, err, "user bob not found")

	list, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

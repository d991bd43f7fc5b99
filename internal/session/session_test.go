package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore_SaveLoadClear(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	store := NewStore(t.TempDir()).WithClock(fixedClock(now))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "no file means logged out")

	sess := store.New("usr_1", "a@b.io", "opaque", "jwt", "machine-1")
	assert.Equal(t, now.Add(Lifetime), sess.ExpiresAt)
	require.NoError(t, store.Save(sess))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "usr_1", loaded.UserID)
	assert.Equal(t, "jwt", loaded.SessionJWT)
	assert.True(t, loaded.ExpiresAt.Equal(sess.ExpiresAt))

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_LoadDeletesExpiredSession(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, NewStore(dir).WithClock(fixedClock(created)).Save(
		NewStore(dir).WithClock(fixedClock(created)).New("usr_1", "a@b.io", "opaque", "jwt", "m"),
	))

	later := NewStore(dir).WithClock(fixedClock(created.Add(Lifetime)))
	loaded, err := later.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	_, err = os.Stat(later.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStore_LoadDiscardsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStore_TouchAndRememberRequest(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	clock := now
	store := NewStore(t.TempDir()).WithClock(func() time.Time { return clock })
	sess := store.New("usr_1", "a@b.io", "opaque", "jwt", "m")
	require.NoError(t, store.Save(sess))

	clock = now.Add(time.Hour)
	require.NoError(t, store.RememberRequest(sess, "usr_1-1-abcd1234"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "usr_1-1-abcd1234", loaded.LastRequestID)
	assert.True(t, loaded.LastActivity.Equal(now.Add(time.Hour)))
	assert.True(t, loaded.ExpiresAt.Equal(now.Add(Lifetime)), "activity never extends expiry")
}

func TestStore_MachineIDIsStable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewStore(dir)

	first, err := store.MachineID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	require.NoError(t, store.Clear())
	second, err := NewStore(dir).MachineID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDefaultDir(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/marketlens-test")
	dir, err := DefaultDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/marketlens-test", dir)
}

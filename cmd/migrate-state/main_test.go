package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/store"
)

const (
	keyA = "a2tra2tra2tra2tra2tra2tra2tra2tra2tra2tra2s="
	keyB = "cnJycnJycnJycnJycnJycnJycnJycnJycnJycnJycnI="
)

func seedState(t *testing.T, cfg store.Config) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	st := notifier.NewState()
	st.Guilds["g1"] = &notifier.GuildConfig{
		NotifyChat: "c1",
		LiveDigest: &notifier.LiveDigest{Chat: "c2", PostID: "m1"},
		Channels:   notifier.NewSet[notifier.ChannelName]("alice", "bob"),
	}
	st.Guilds["g2"] = &notifier.GuildConfig{Channels: notifier.NewSet[notifier.ChannelName]("alice")}
	st.Channels["alice"] = &notifier.ChannelSubscription{RemoteID: "5678", Followers: notifier.NewSet[notifier.GuildID]("g1", "g2")}
	st.Channels["bob"] = &notifier.ChannelSubscription{RemoteID: "9012", Followers: notifier.NewSet[notifier.GuildID]("g1")}
	blob, err := notifier.MarshalState(st)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, notifier.StateKey, blob))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STATE_DSN", "")
	t.Setenv("STATE_ENCRYPTION_KEY", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCopyPlainToSealed(t *testing.T) {
	from := "file://" + filepath.Join(t.TempDir(), "src")
	to := "file://" + filepath.Join(t.TempDir(), "dst")
	seedState(t, store.Config{DSN: from})

	out, err := run(t, "copy", "--from", from, "--to", to, "--to-key", keyB)
	require.NoError(t, err)
	assert.Contains(t, out, "copied 2 guilds, 2 channels")

	ctx := context.Background()
	dst, err := store.Open(ctx, store.Config{DSN: to, EncryptionKey: keyB})
	require.NoError(t, err)
	st, err := loadState(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "5678", st.Channels["alice"].RemoteID)
	assert.True(t, st.Guilds["g1"].Channels.Has("bob"))

	raw, err := store.Open(ctx, store.Config{DSN: to})
	require.NoError(t, err)
	_, err = loadState(ctx, raw)
	assert.Error(t, err, "destination must not be readable without the key")
}

func TestCopyRotatesKey(t *testing.T) {
	from := "file://" + filepath.Join(t.TempDir(), "src")
	to := "file://" + filepath.Join(t.TempDir(), "dst")
	seedState(t, store.Config{DSN: from, EncryptionKey: keyA})

	_, err := run(t, "copy", "--from", from, "--from-key", keyB, "--to", to)
	require.Error(t, err, "wrong source key must fail")

	_, err = run(t, "copy", "--from", from, "--from-key", keyA, "--to", to, "--to-key", keyB)
	require.NoError(t, err)

	ctx := context.Background()
	dst, err := store.Open(ctx, store.Config{DSN: to, EncryptionKey: keyB})
	require.NoError(t, err)
	st, err := loadState(ctx, dst)
	require.NoError(t, err)
	assert.Len(t, st.Channels, 2)
}

func TestCopyDryRunWritesNothing(t *testing.T) {
	from := "file://" + filepath.Join(t.TempDir(), "src")
	to := "file://" + filepath.Join(t.TempDir(), "dst")
	seedState(t, store.Config{DSN: from})

	out, err := run(t, "copy", "--from", from, "--to", to, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run: would write 2 guilds, 2 channels")

	ctx := context.Background()
	dst, err := store.Open(ctx, store.Config{DSN: to})
	require.NoError(t, err)
	_, err = dst.Get(ctx, notifier.StateKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCopyRequiresDestination(t *testing.T) {
	_, err := run(t, "copy", "--from", "file://"+t.TempDir())
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	dsn := "file://" + t.TempDir()
	seedState(t, store.Config{DSN: dsn})
	s, err := store.Open(context.Background(), store.Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "backup", []byte("{}")))
	require.NoError(t, s.Close())

	out, err := run(t, "inspect", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "keys: backup, twitch")
	assert.Contains(t, out, "CHANNEL")
	assert.Regexp(t, `alice\s+5678\s+2`, out)
	assert.Regexp(t, `bob\s+9012\s+1`, out)
	assert.Contains(t, out, "2 guilds, 1 with a live digest")
}

func TestInspectMissingState(t *testing.T) {
	_, err := run(t, "inspect", "--dsn", "file://"+t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

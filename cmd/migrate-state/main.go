// Command migrate-state copies the persisted notifier state between stores
// and prints summaries of it. Typical uses are moving from a local file to
// Postgres or GCS, and sealing a plaintext blob with an encryption key.
//
// Usage:
//
//	migrate-state copy --from file://data --to postgres://… [--to-key KEY] [--dry-run]
//	migrate-state inspect --dsn sqlite://herald.db [--key KEY]
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate-state",
		Short:        "Copy and inspect persisted live-herald state",
		SilenceUsage: true,
	}
	root.AddCommand(newCopyCmd(), newInspectCmd())
	return root
}

func newCopyCmd() *cobra.Command {
	var (
		from, to       string
		fromKey, toKey string
		dryRun         bool
	)
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the state blob from one store to another",
		Long: `Reads the state blob from --from, validates it, and writes it to --to.
Either side may be sealed with its own base64 AES key, so the same command
encrypts, decrypts or rotates keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			src, err := store.Open(ctx, store.Config{DSN: from, EncryptionKey: fromKey})
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer func() { _ = src.Close() }()
			dst, err := store.Open(ctx, store.Config{DSN: to, EncryptionKey: toKey})
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			defer func() { _ = dst.Close() }()
			return copyState(ctx, src, dst, dryRun, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&from, "from", os.Getenv("STATE_DSN"), "source store DSN")
	cmd.Flags().StringVar(&to, "to", "", "destination store DSN")
	cmd.Flags().StringVar(&fromKey, "from-key", os.Getenv("STATE_ENCRYPTION_KEY"), "source encryption key")
	cmd.Flags().StringVar(&toKey, "to-key", "", "destination encryption key")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be copied without writing")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var dsn, key string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print stored keys, guilds and followed channels from a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			s, err := store.Open(ctx, store.Config{DSN: dsn, EncryptionKey: key})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = s.Close() }()
			return inspect(ctx, s, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("STATE_DSN"), "store DSN")
	cmd.Flags().StringVar(&key, "key", os.Getenv("STATE_ENCRYPTION_KEY"), "encryption key")
	return cmd
}

func loadState(ctx context.Context, s store.Store) (notifier.State, error) {
	blob, err := s.Get(ctx, notifier.StateKey)
	if err != nil {
		return notifier.State{}, fmt.Errorf("read state: %w", err)
	}
	return notifier.UnmarshalState(blob)
}

// copyState re-encodes the source state so the destination always holds the
// canonical form.
func copyState(ctx context.Context, src, dst store.Store, dryRun bool, out io.Writer) error {
	st, err := loadState(ctx, src)
	if err != nil {
		return err
	}
	blob, err := notifier.MarshalState(st)
	if err != nil {
		return err
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "dry run: would write %d guilds, %d channels (%d bytes)\n", len(st.Guilds), len(st.Channels), len(blob))
		return nil
	}
	if err := dst.Put(ctx, notifier.StateKey, blob); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	slog.Info("state copied", slog.Int("guilds", len(st.Guilds)), slog.Int("channels", len(st.Channels)))
	_, _ = fmt.Fprintf(out, "copied %d guilds, %d channels\n", len(st.Guilds), len(st.Channels))
	return nil
}

// inspect lists the stored keys, then summarizes the state blob.
func inspect(ctx context.Context, s store.Store, out io.Writer) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	_, _ = fmt.Fprintf(out, "keys: %s\n", strings.Join(keys, ", "))
	st, err := loadState(ctx, s)
	if err != nil {
		return err
	}
	printState(out, st)
	return nil
}

func printState(out io.Writer, st notifier.State) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "CHANNEL\tREMOTE ID\tFOLLOWERS\n")
	for _, name := range slices.Sorted(maps.Keys(st.Channels)) {
		c := st.Channels[name]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", name, c.RemoteID, len(c.Followers))
	}
	_ = tw.Flush()
	digests := 0
	for _, g := range st.Guilds {
		if g.LiveDigest != nil {
			digests++
		}
	}
	_, _ = fmt.Fprintf(out, "%d guilds, %d with a live digest\n", len(st.Guilds), digests)
}

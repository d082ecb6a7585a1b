// Command vgraphd is the thin administrative CLI for a vgraph store: it
// opens the configured storage adapter, runs one operational command, and
// exits with the status code a wrapping process can branch on. It is not
// the natural-language or pretty-printing client the specification scopes
// out — it speaks in ids, counts, and exit codes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	vgraph "github.com/vgraph/vgraph"
	"github.com/vgraph/vgraph/pkg/storage"
	"github.com/vgraph/vgraph/pkg/verrors"
)

// Exit codes (spec §6): 0 success; 1 validation error; 2 storage
// unavailable; 3 circuit-open; 4 cancelled; 5 fatal.
const (
	exitOK          = 0
	exitInvalid     = 1
	exitStorage     = 2
	exitCircuitOpen = 3
	exitCancelled   = 4
	exitFatal       = 5
)

var (
	backend   string
	dataDir   string
	s3Bucket  string
	s3Region  string
	s3Endpoint string
	s3PathStyle bool
	branch    string
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "vgraphd",
	Short: "Operational CLI for a vgraph store",
	Long:  "vgraphd runs maintenance and inspection commands against a vgraph store: statistics, HNSW compaction, WAL checkpointing, and WAL recovery.",
}

func openCore(ctx context.Context) (*vgraph.Core, error) {
	var adapter storage.Adapter
	switch backend {
	case "memory":
		adapter = storage.NewMemory()
	case "localfs":
		if dataDir == "" {
			return nil, verrors.New("vgraphd.open", verrors.Invalid, "", errMissingDataDir)
		}
		fs, err := storage.NewLocalFS(dataDir, false)
		if err != nil {
			return nil, verrors.Wrap("vgraphd.open", verrors.KindOf(err), err)
		}
		adapter = fs
	case "s3":
		if s3Bucket == "" {
			return nil, verrors.New("vgraphd.open", verrors.Invalid, "", errMissingBucket)
		}
		s3Adapter, err := storage.NewS3(ctx, storage.S3Config{
			Bucket: s3Bucket, Region: s3Region, Endpoint: s3Endpoint, PathStyle: s3PathStyle,
		})
		if err != nil {
			return nil, verrors.Wrap("vgraphd.open", verrors.KindOf(err), err)
		}
		adapter = s3Adapter
	default:
		return nil, verrors.New("vgraphd.open", verrors.Invalid, backend, errUnknownBackend)
	}

	cfg := vgraph.DefaultConfig(adapter)
	cfg.Branch = branch
	cfg.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	return vgraph.New(ctx, cfg)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display noun/verb/index counters and backpressure metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		stats := core.Statistics()
		bp := core.BackpressureSnapshot()

		if jsonOut {
			data, _ := json.MarshalIndent(map[string]any{"statistics": stats, "backpressure": bp}, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Println("Store statistics:")
		fmt.Printf("  Nouns by type:    %v\n", stats.NounCount)
		fmt.Printf("  Verbs by type:    %v\n", stats.VerbCount)
		fmt.Printf("  HNSW index size:  %d\n", stats.HNSWIndexSize)
		fmt.Printf("  Last updated:     %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
		fmt.Println("Backpressure:")
		fmt.Printf("  %+v\n", bp)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Purge tombstoned HNSW nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		purged, err := core.Compact(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Compacted: purged %d tombstoned node(s)\n", purged)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Append a WAL checkpoint marker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		ok, err := core.Checkpoint(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("WAL is disabled on this store; nothing to checkpoint")
			return nil
		}
		fmt.Println("Checkpoint recorded")
		return nil
	},
}

var walRecoverCmd = &cobra.Command{
	Use:   "wal-recover",
	Short: "Replay any pending WAL entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		replayed, err := core.WALRecover(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Recovery replayed %d pending operation(s)\n", replayed)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "localfs", "storage backend: memory, localfs, s3")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "./vgraph-data", "data directory for the localfs backend")
	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "bucket name for the s3 backend")
	rootCmd.PersistentFlags().StringVar(&s3Region, "s3-region", "", "region for the s3 backend")
	rootCmd.PersistentFlags().StringVar(&s3Endpoint, "s3-endpoint", "", "alternate endpoint for R2/GCS/MinIO")
	rootCmd.PersistentFlags().BoolVar(&s3PathStyle, "s3-path-style", false, "use path-style addressing")
	rootCmd.PersistentFlags().StringVar(&branch, "branch", "main", "COW branch to report and operate on")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON where supported")

	rootCmd.AddCommand(statsCmd, compactCmd, checkpointCmd, walRecoverCmd)
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch verrors.KindOf(err) {
	case verrors.Invalid:
		return exitInvalid
	case verrors.NotFound, verrors.TransientIO, verrors.PermissionDenied, verrors.QuotaExceeded:
		return exitStorage
	case verrors.CircuitOpen, verrors.Overloaded:
		return exitCircuitOpen
	case verrors.Cancelled:
		return exitCancelled
	case verrors.Fatal, verrors.Conflict:
		return exitFatal
	default:
		return exitFatal
	}
}

func main() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

type vgraphdErr string

func (e vgraphdErr) Error() string { return string(e) }

const (
	errMissingDataDir = vgraphdErr("--dir is required for the localfs backend")
	errMissingBucket  = vgraphdErr("--s3-bucket is required for the s3 backend")
	errUnknownBackend = vgraphdErr("unknown --backend (want memory, localfs, or s3)")
)

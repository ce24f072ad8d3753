package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"media-catalog/internal/accessfs"
	"media-catalog/internal/catalog"
	"media-catalog/internal/config"
	"media-catalog/internal/registry"
	"media-catalog/internal/scanner"
	"media-catalog/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles the components a CLI command needs. The caller must defer
// engine.Close().
type engine struct {
	store    *store.Store
	registry *registry.Registry
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
	}
}

// newEngine loads the config, opens the store and restores the persisted
// folder registry.
func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cap := accessfs.NewOS()
	sc := scanner.New(cap)
	if cfg.ScanMaxDepth > 0 {
		sc.SetMaxDepth(cfg.ScanMaxDepth)
	}

	reg := registry.New(st, cap, sc)
	if err := reg.LoadPersisted(ctx); err != nil {
		if closeErr := st.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", closeErr)
		}
		return nil, fmt.Errorf("loading folders: %w", err)
	}
	reg.WaitScans()

	return &engine{store: st, registry: reg}, nil
}

var rootCmd = &cobra.Command{
	Use:   "catalogctl",
	Short: "Manage the media catalog",
}

var addCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a folder and scan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		folder, err := e.registry.AddFolder(cmd.Context(), abs, name)
		if err != nil {
			return fmt.Errorf("adding folder: %w", err)
		}

		assets, _ := e.registry.Assets(folder.ID)
		fmt.Printf("Added folder %q (%s), %d assets\n", folder.DisplayName, folder.ID, len(assets))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		folders := e.registry.Folders()
		if len(folders) == 0 {
			fmt.Println("No folders registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tASSETS")
		for _, f := range folders {
			assets, _ := e.registry.Assets(f.ID)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", f.ID, f.DisplayName, f.State, len(assets))
		}
		return w.Flush()
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a folder and its cached records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.registry.RemoveFolder(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("removing folder: %w", err)
		}
		fmt.Printf("Removed folder %s\n", args[0])
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh ID",
	Short: "Rescan a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.registry.RefreshFolder(cmd.Context(), args[0], true); err != nil {
			return fmt.Errorf("refreshing folder: %w", err)
		}
		assets, _ := e.registry.Assets(args[0])
		fmt.Printf("Refreshed folder %s, %d assets\n", args[0], len(assets))
		return nil
	},
}

var assetsCmd = &cobra.Command{
	Use:   "assets ID",
	Short: "List a folder's assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		assets, ok := e.registry.Assets(args[0])
		if !ok {
			return fmt.Errorf("unknown folder %s", args[0])
		}
		if len(assets) == 0 {
			fmt.Println("No assets.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tKIND\tSIZE\tUPLOAD")
		for _, a := range assets {
			upload := "-"
			if !a.Overlay.IsZero() {
				upload = string(a.Overlay.UploadStatus)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.Key, a.Kind, a.SizeBytes, upload)
		}
		return w.Flush()
	},
}

var annotateCmd = &cobra.Command{
	Use:   "annotate KEY STATUS",
	Short: "Record an upload outcome for an asset",
	Long:  "STATUS is \"success\" or \"error\". Use --note for a free-form note.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		status, ok := catalog.ParseUploadStatus(args[1])
		if !ok {
			return fmt.Errorf("invalid status %q", args[1])
		}

		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.registry.UpdateAssetUploadStatus(cmd.Context(), args[0], status, note); err != nil {
			return fmt.Errorf("annotating asset: %w", err)
		}
		fmt.Printf("Marked %s as %s\n", args[0], status)
		return nil
	},
}

func init() {
	addCmd.Flags().String("name", "", "display name for the folder")
	annotateCmd.Flags().String("note", "", "free-form note for the upload outcome")

	rootCmd.AddCommand(addCmd, listCmd, removeCmd, refreshCmd, assetsCmd, annotateCmd)
}

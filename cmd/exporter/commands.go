package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/cloud"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/config"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/export"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/snapshot"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	format         string
	outDir         string
	upload         bool
	withEvents     bool
	withAlerts     bool
	withHistory    bool
	commandTimeout time.Duration

	rootCmd = &cobra.Command{
		Use:          "exporter",
		Short:        "Export the UPS fleet and manage stored exports",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			cfg.SetupLogging()
			return nil
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Fetch the device list and write it as csv, json or excel",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List exports stored in S3",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	getCmd = &cobra.Command{
		Use:   "get [name]",
		Short: "Download a stored export into the output directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a stored export",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 2*time.Minute, "overall command timeout")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", ".", "output directory")

	exportCmd.Flags().StringVarP(&format, "format", "f", "csv", "csv, json or excel")
	exportCmd.Flags().BoolVar(&upload, "upload", false, "upload to S3 instead of writing a local file")
	exportCmd.Flags().BoolVar(&withEvents, "events", false, "include device events (json only)")
	exportCmd.Flags().BoolVar(&withAlerts, "alerts", false, "include device alerts (json only)")
	exportCmd.Flags().BoolVar(&withHistory, "history", false, "include performance history (json only)")

	rootCmd.AddCommand(exportCmd, listCmd, getCmd, deleteCmd)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), commandTimeout)
}

func s3Client(ctx context.Context) (*cloud.S3Client, error) {
	return cloud.NewS3Client(ctx, cfg.AWSRegion, cfg.S3Bucket)
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}

	client, err := api.New(cfg.APIBaseURL, api.WithTimeout(cfg.APITimeout))
	if err != nil {
		return err
	}
	store := snapshot.New(client, snapshot.DefaultInterval)
	if err := store.Refetch(ctx); err != nil {
		return err
	}

	file, err := export.Export(store.Snapshot().Records, export.Options{
		Format:                    f,
		IncludeEvents:             withEvents,
		IncludeAlerts:             withAlerts,
		IncludePerformanceHistory: withHistory,
	}, time.Now())
	if err != nil {
		return err
	}

	if upload {
		s3, err := s3Client(ctx)
		if err != nil {
			return err
		}
		url, err := s3.UploadExport(ctx, file.Name, file.ContentType, file.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n%s\n", cloud.ExportKey(file.Name), url)
		return nil
	}

	path := filepath.Join(outDir, file.Name)
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d devices)\n", path, len(store.Snapshot().Records))
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s3, err := s3Client(ctx)
	if err != nil {
		return err
	}
	objects, err := s3.ListExports(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "s3://%s (%d exports)\n", s3.Bucket(), len(objects))
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tLAST MODIFIED")
	for _, o := range objects {
		fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
	}
	return w.Flush()
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s3, err := s3Client(ctx)
	if err != nil {
		return err
	}
	name := filepath.Base(args[0])
	data, err := s3.DownloadExport(ctx, name)
	if err != nil {
		return err
	}
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s3, err := s3Client(ctx)
	if err != nil {
		return err
	}
	key := cloud.ExportKey(filepath.Base(args[0]))
	if err := s3.DeleteExport(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
	return nil
}

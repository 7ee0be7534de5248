package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Migrate bool
	// store is opened lazily by commands that need files.
	store utils.BlobStore
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "stocktake-admin",
		Short:         "Operator tasks for the stocktake backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			conn, err := config.OpenDatabase()
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			config.SetDB(conn)
			if opts.Migrate {
				models.MigrateTable()
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closer, ok := opts.store.(io.Closer); ok {
				_ = closer.Close()
			}
			if db := config.GetDB(); db != nil {
				if sqlDB, err := db.DB(); err == nil {
					return sqlDB.Close()
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().BoolVar(&opts.Migrate, "migrate", false, "run AutoMigrate before the command")

	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSyncCodesCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	return cmd
}

func (o *RootOptions) blobStore(ctx context.Context) (utils.BlobStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	store, err := utils.NewBlobStore(ctx, config.BasicPath())
	if err != nil {
		return nil, err
	}
	o.store = store
	return store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

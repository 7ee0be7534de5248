package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/middlewares"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/models/reports"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

func NewSweepCommand(opts *RootOptions) *cobra.Command {
	var graceMinutes int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one import sweep pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			grace := config.SweepGrace()
			if cmd.Flags().Changed("grace") {
				if graceMinutes < 0 {
					return fmt.Errorf("grace must not be negative")
				}
				grace = time.Duration(graceMinutes) * time.Minute
			}
			stats, err := models.SweepImports(cmd.Context(), grace)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&graceMinutes, "grace", 15, "grace period in minutes")
	return cmd
}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var countId, userId int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the differences of signed sheets of a count",
		Example: `  stocktake-admin export --count 3 --user 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.blobStore(ctx)
			if err != nil {
				return err
			}
			result, err := models.ExportCount(ctx, store, countId, userId)
			if err != nil {
				return err
			}
			if _, err := reports.StoreExportWorkbook(ctx, store, result); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "workbook not written: %v\n", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntVar(&countId, "count", 0, "count id")
	cmd.Flags().IntVar(&userId, "user", 0, "acting user id")
	_ = cmd.MarkFlagRequired("count")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func NewImportCommand(opts *RootOptions) *cobra.Command {
	var countId, userId int
	cmd := &cobra.Command{
		Use:     "import FILE...",
		Short:   "Import device files",
		Example: `  stocktake-admin import --count 3 --user 1 A-terminal1.txt B-terminal2.txt`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uploads := make([]models.DeviceFileUpload, 0, len(args))
			for _, name := range args {
				data, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				uploads = append(uploads, models.DeviceFileUpload{FileName: filepath.Base(name), Content: data})
			}
			store, err := opts.blobStore(ctx)
			if err != nil {
				return err
			}
			report, err := models.ImportDeviceFiles(ctx, store, uploads, countId, userId)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&countId, "count", 0, "count id")
	cmd.Flags().IntVar(&userId, "user", 0, "acting user id")
	_ = cmd.MarkFlagRequired("count")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func NewSyncCodesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-codes",
		Short: "Rebuild the normalized product code index",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := models.SyncCatalogCodes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d codes indexed\n", n)
			return nil
		},
	}
}

func NewSnapshotCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Dump the catalog under sync/<date>/",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.blobStore(ctx)
			if err != nil {
				return err
			}
			snap, err := models.SnapshotCatalog(ctx, store)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func NewCountCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Manage count cycles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Open a new count cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := models.CreateCount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), count)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List count cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := models.ListCounts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	})
	return cmd
}

func NewUserCommand(opts *RootOptions) *cobra.Command {
	var input models.NewUser
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operators",
	}
	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Register an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Username = args[0]
			user, err := models.CreateUser(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	create.Flags().StringVar(&input.Card, "card", "", "badge card number")
	create.Flags().BoolVar(&input.IsAdmin, "admin", false, "grant admin rights")
	create.Flags().StringVar(&input.DefaultLetter, "letter", "", "default device letter")
	cmd.AddCommand(create)
	cmd.AddCommand(newUserSessionCommand(), newUserTokenCommand())
	return cmd
}

// newUserSessionCommand issues an opaque token for a handheld terminal.
func newUserSessionCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "session USERNAME",
		Short: "Issue a terminal session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := models.FindActiveUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := config.ConnectRedis(cmd.Context()); err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer config.GetRedisDB().Close()
			token := uuid.NewString()
			if err := config.SetRedisValue(cmd.Context(), middlewares.SessionKey(token), strconv.Itoa(user.ID), ttl); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"user_id": user.ID, "token": token, "expires_in": ttl.String()})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "session lifetime")
	return cmd
}

// newUserTokenCommand mints a bearer token, for scripts calling the HTTP API.
func newUserTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token USERNAME",
		Short: "Mint a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := models.FindActiveUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			role := "counter"
			if user.IsAdmin {
				role = "admin"
			}
			claims := &utils.JwtCustomClaim{ID: user.ID, Username: user.Username, Role: role}
			claims.ExpiresAt = time.Now().Add(ttl).Unix()
			token, err := utils.JwtSign(claims)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

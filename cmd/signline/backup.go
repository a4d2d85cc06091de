package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signline/internal/app"
	"signline/internal/backup"
)

func backupCmd() *cobra.Command {
	var dir string
	var skipArtifacts bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database and archive stored artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out := dir
				if out == "" {
					out = filepath.Join(a.Workspace, "backups")
				}
				res, err := backup.Run(ctx, a.DB, a.Store, backup.Options{Dir: out, SkipArtifacts: skipArtifacts})
				if err != nil {
					return err
				}
				a.Logger.Info("backup written", "database", res.Database, "archive", res.Archive, "objects", res.Objects)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.DatabaseExisted {
					fmt.Printf("Database snapshot %s already exists\n", res.Database)
				} else {
					fmt.Printf("Database snapshot %s\n", res.Database)
				}
				switch {
				case skipArtifacts:
				case res.Archive == "":
					fmt.Println("Object store is empty, no archive written")
				default:
					fmt.Printf("Archived %s objects to %s\n", humanize.Comma(int64(res.Objects)), res.Archive)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Output directory (default <workspace>/backups)")
	cmd.Flags().BoolVar(&skipArtifacts, "skip-artifacts", false, "Only snapshot the database")
	return cmd
}

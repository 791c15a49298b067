package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [share-id]",
	Short: "Sync all shares, or one share, with the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(globalFlags)
		if err != nil {
			return err
		}
		defer s.closeWithTimeout()

		ctx := cmd.Context()
		sp := newSpinner("Syncing...")
		sp.Start()
		start := time.Now()
		if len(args) == 1 {
			err = s.app.SyncService.SyncShare(ctx, args[0])
		} else {
			err = s.app.SyncService.Sync(ctx)
		}
		if err != nil {
			sp.FinalMSG = failMark() + " Sync failed: " + err.Error() + "\n"
			sp.Stop()
			return errSilent
		}
		sp.FinalMSG = okMark() + " Synced in " + time.Since(start).Round(time.Millisecond).String() + "\n"
		sp.Stop()
		return printShares(ctx, s)
	},
}

var sharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "List locally cached shares",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(globalFlags)
		if err != nil {
			return err
		}
		defer s.closeWithTimeout()
		return printShares(cmd.Context(), s)
	},
}

func printShares(ctx context.Context, s *session) error {
	shares, err := s.app.ShareRepo.List(ctx)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		fmt.Println(hintMark() + " No shares cached yet, run " + color.YellowString("fast-pass-sync sync"))
		return nil
	}
	for _, sh := range shares {
		n, err := s.app.ItemRepo.CountByShare(ctx, sh.ID)
		if err != nil {
			return err
		}
		owner := ""
		if sh.Owner {
			owner = color.CyanString(" (owner)")
		}
		fmt.Printf("%s  %4d items  rotation %d%s\n", sh.ID, n, sh.ContentKeyRotation, owner)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd, sharesCmd)
}

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an encrypted backup of the local cache to the configured storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(globalFlags)
		if err != nil {
			return err
		}
		defer s.closeWithTimeout()

		if s.app.BackupService == nil {
			return fmt.Errorf("backup storage is not available, check backup.storage in %s", s.configPath)
		}

		sp := newSpinner("Writing backup...")
		sp.Start()
		res, err := s.app.BackupService.Run(cmd.Context())
		if err != nil {
			sp.FinalMSG = failMark() + " Backup failed: " + err.Error() + "\n"
			sp.Stop()
			return errSilent
		}
		sp.FinalMSG = fmt.Sprintf("%s Backed up %d items in %d shares\n", okMark(), res.Items, res.Shares)
		sp.Stop()

		fmt.Println(hintMark() + " " + color.YellowString(res.FileKey))
		for _, key := range res.Removed {
			fmt.Println(hintMark() + " pruned " + key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

package cmd

import (
	"fmt"

	"github.com/haierkeys/fast-pass-sync/internal/app"
	"github.com/haierkeys/fast-pass-sync/pkg/util"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print out version info and exit. // 打印版本信息并退出。",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s ( Git:%s ) BuildTime:%s\n", app.Name, app.Version, app.GitTag, app.BuildTime)
		fmt.Printf("Host: %s %s\n", util.GetHostname(), util.GetOSPrettyName())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	dir    string // Working directory // 工作目录
	config string // Specified configuration file path // 指定要使用的配置文件路径
}

var (
	configDefault string
	globalFlags   = new(rootFlags)

	// errSilent 错误已输出，仅设置退出码
	errSilent = errors.New("")
)

var rootCmd = &cobra.Command{
	Use:           "fast-pass-sync",
	Short:         "Fast Pass Sync: end-to-end encrypted vault client",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&globalFlags.dir, "dir", "d", "", "working dir")
	fs.StringVarP(&globalFlags.config, "config", "c", "", "config file")
}

// Execute 执行命令行，c 为内置的默认配置
func Execute(c string) {
	configDefault = c
	if err := rootCmd.Execute(); err != nil {
		if err != errSilent {
			fmt.Fprintln(os.Stderr, failMark()+" "+err.Error())
		}
		os.Exit(1)
	}
}

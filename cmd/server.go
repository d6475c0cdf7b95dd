package cmd

import (
	"MirrorFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动MirrorFM服务器",
	Long:  `启动MirrorFM同步服务器：轮询主账号播放状态，通过WebSocket广播给所有听众。`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

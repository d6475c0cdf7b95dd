package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"MirrorFM/config"
	"MirrorFM/core/listener"
	"MirrorFM/logger"

	"github.com/spf13/cobra"
)

var (
	listenServerURL string
	listenToken     string
	listenGuest     bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "以无头听众身份接入同步服务器",
	Long: `连接MirrorFM服务器的WebSocket，收到的快照实时同步到本机：
登录听众直接控制自己的Spotify设备，--guest 走内容解析的视频通道。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})

		runner := listener.NewRunner(cfg, listener.Options{
			ServerURL: listenServerURL,
			Token:     listenToken,
			Guest:     listenGuest,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-stop
			cancel()
		}()

		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			log.Fatalf("listener stopped: %v", err)
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenServerURL, "server", "http://localhost:8080", "同步服务器地址")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "登录后拿到的JWT，留空按游客接入")
	listenCmd.Flags().BoolVar(&listenGuest, "guest", false, "游客模式：用视频通道代替Spotify设备")
	rootCmd.AddCommand(listenCmd)
}

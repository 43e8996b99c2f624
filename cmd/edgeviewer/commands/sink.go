package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/EdgeViewer/internal/config"
	"github.com/bryanchriswhite/EdgeViewer/internal/logger"
	"github.com/bryanchriswhite/EdgeViewer/internal/sink"
)

var sinkPort int

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Run a frame sink that receives exported frames",
	Long: `Run the receiving end of frame export. Frames posted to /api/frame are
kept (latest wins) and shown on a web page that updates over a websocket.`,
	Example: `  # Receive frames on the configured sink port (default 3000)
  edgeviewer sink

  # Point a viewer at it
  edgeviewer config set export.endpoint http://localhost:3000/api/frame
  edgeviewer config set export.enabled true`,
	RunE: runSink,
}

func init() {
	rootCmd.AddCommand(sinkCmd)
	sinkCmd.Flags().IntVar(&sinkPort, "sink-port", 0, "listen port (default is sink.port from the config)")
}

func runSink(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()
	flagOverrides(&cfg.ServerPort, &cfg.LogLevel)
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("sink")

	port := cfg.Sink.Port
	if sinkPort > 0 {
		port = sinkPort
	}

	server := sink.NewServer()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(port)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down frame sink...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

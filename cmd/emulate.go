package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"switchtec-mrpc/middleware"
	"switchtec-mrpc/server"
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Serve an emulated switchtec MRPC endpoint over TCP.",
	Long: `Serve an emulated switchtec MRPC endpoint over TCP. It answers the echo and die
temperature commands; point the other commands at it with tcp://host:port.`,
	Args: cobra.NoArgs,
	RunE: runEmulate,
}

func init() {
	f := emulateCmd.Flags()
	f.String("listen", "", "address to listen on (default 127.0.0.1:5000)")
	f.Uint32("temp", 0, "die temperature in hundredths of a degree (default 3450)")
}

func runEmulate(cmd *cobra.Command, _ []string) error {
	svr := server.NewServer()
	svr.Use(middleware.LoggingMiddleware())
	if err := server.NewSwitch(opts.Emulator.TempRaw).Register(svr); err != nil {
		return err
	}

	go func() {
		<-cmd.Context().Done()
		_ = svr.Shutdown(5 * time.Second)
	}()

	err := svr.Serve("tcp", opts.Emulator.Listen)
	if cmd.Context().Err() != nil {
		return nil
	}
	return err
}

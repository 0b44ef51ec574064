package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"

	"switchtec-mrpc/client"
	"switchtec-mrpc/command"
	"switchtec-mrpc/config"
	"switchtec-mrpc/logger"
)

var (
	cfgFile string
	opts    = config.NewOptions()
	rootCmd = &cobra.Command{
		Use:   "switchtec-mrpc [device]",
		Short: "Check a switchtec switch over its MRPC management channel.",
		Long: `Check a switchtec switch over its MRPC management channel: run the echo
diagnostic, then trigger and read a die temperature sample.

The device defaults to /dev/switchtec0. A path of the form tcp://host:port talks to
an endpoint emulator (see "switchtec-mrpc emulate").`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		RunE:              runCheck,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
)

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"timeout":             "timeout",
	"rateLimit":           "rate",
	"rateBurst":           "burst",
	"library":             "library",
	"codec":               "codec",
	"logger.level":        "log-level",
	"logger.dir":          "log-dir",
	"interval":            "interval",
	"monitor.maxFailures": "max-failures",
	"etcd.endpoints":      "etcd",
	"etcd.ttl":            "ttl",
	"emulator.listen":     "listen",
	"emulator.tempRaw":    "temp",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file")
	pf.Duration("timeout", 0, "per-exchange timeout (0 = none)")
	pf.Float64("rate", 0, "maximum exchanges per second (0 = unpaced)")
	pf.Int("burst", 0, "exchange burst allowed by --rate")
	pf.Bool("library", false, "open the device through libswitchtec")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-dir", "", "also write logs to a rotating file in this directory")

	rootCmd.AddCommand(monitorCmd, emulateCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	// start from defaults on every run; nothing carries over from an earlier one
	opts = config.NewOptions()

	vp, err := config.NewViper(cfgFile)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := bindFlags(vp, cmd.Flags()); err != nil {
		return err
	}
	if err := opts.ConfigureWithViper(vp); err != nil {
		return errors.Wrap(err, "config")
	}
	if len(args) > 0 {
		opts.Device = args[0]
	}

	logger.Configure(opts.LoggerOptions())
	atexit.Register(func() { _ = logger.Sync() })
	return nil
}

func bindFlags(vp *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := vp.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// openClient opens the configured device. The channel is released at exit even when
// the command does not return normally.
func openClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.Open(ctx, opts.Device, opts.ClientOptions())
	if err != nil {
		return nil, err
	}
	atexit.Register(func() { _ = cli.Close() })
	return cli, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cli, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	if _, err := cli.Echo(ctx, command.DefaultEchoSubCommand); err != nil {
		return err
	}

	celsius, err := cli.DieTemperature(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), command.FormatTemperature(celsius))
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, rootCmd, os.Args[1:])
}

func execute(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	// Interrupted: whatever failed was cut short, end the ^C line and leave quietly
	if ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout())
		return 0
	}

	fmt.Fprintln(cmd.ErrOrStderr(), err)
	return ExitCode(err)
}

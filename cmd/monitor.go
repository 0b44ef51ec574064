package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchtec-mrpc/codec"
	"switchtec-mrpc/command"
	"switchtec-mrpc/monitor"
	"switchtec-mrpc/registry"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [device]",
	Short: "Sample echo and die temperature periodically, optionally publishing to etcd.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMonitor,
}

func init() {
	f := monitorCmd.Flags()
	f.Duration("interval", 0, "sampling period (default 5s)")
	f.Int("max-failures", 0, "stop after this many consecutive failed samples (0 = never)")
	f.StringSlice("etcd", nil, "etcd endpoints to publish readings to")
	f.Int64("ttl", 0, "seconds a published reading outlives this monitor (default 15)")
	f.String("codec", "", "encoding of published readings: json or cbor")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cli, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	var reg registry.Registry
	if len(opts.Etcd.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(opts.Etcd.Endpoints, codec.GetCodec(opts.Codec))
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	mopts := monitor.NewOptions()
	mopts.Interval = opts.Interval
	mopts.TTL = opts.Etcd.TTL
	mopts.MaxFailures = opts.MaxFailures

	out := cmd.OutOrStdout()
	m := monitor.New(cli, opts.Device, reg, mopts)
	return m.Run(ctx, func(r registry.Reading) {
		if r.Error != "" {
			fmt.Fprintf(out, "%s %s\n", r.Timestamp.Format("15:04:05"), r.Error)
			return
		}
		fmt.Fprintf(out, "%s %s\n", r.Timestamp.Format("15:04:05"), command.FormatTemperature(r.TemperatureC))
	})
}

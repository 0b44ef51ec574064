// Package config holds the CLI's settings. Values come from, in order of precedence,
// command-line flags, MRPC_* environment variables, an optional config file and the
// defaults in NewOptions.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"switchtec-mrpc/client"
	"switchtec-mrpc/codec"
	"switchtec-mrpc/logger"
	"switchtec-mrpc/transport"
)

const EnvPrefix = "mrpc"

type Options struct {
	vp *viper.Viper

	Device    string
	Library   bool          // open the device through libswitchtec
	Timeout   time.Duration // per exchange, 0 = none
	RateLimit float64       // exchanges per second, 0 = unpaced
	RateBurst int
	Interval  time.Duration // monitor sampling period
	// MaxFailures stops the monitor after this many consecutive failed samples, 0 = never.
	MaxFailures int
	Codec       codec.CodecType

	Etcd struct {
		Endpoints []string
		TTL       int64 // seconds a published reading outlives its publisher
	}

	Emulator struct {
		Listen  string
		TempRaw uint32 // hundredths of a degree
	}

	Logger struct {
		Level   zapcore.Level
		Dir     string
		LineNum bool
	}
}

func NewOptions() *Options {
	o := &Options{
		Device:    transport.DefaultDevice,
		RateBurst: 1,
		Interval:  5 * time.Second,
		Codec:     codec.CodecTypeJSON,
	}
	o.Etcd.TTL = 15
	o.Emulator.Listen = "127.0.0.1:5000"
	o.Emulator.TempRaw = 3450
	o.Logger.Level = zapcore.WarnLevel
	return o
}

// ConfigureWithViper reads every known key from vp, keeping the current value for
// keys that are unset. It fails on values that do not parse.
func (o *Options) ConfigureWithViper(vp *viper.Viper) error {
	o.vp = vp

	o.Device = o.getString("device", o.Device)
	o.Library = o.getBool("library", o.Library)
	o.Timeout = o.getDuration("timeout", o.Timeout)
	o.RateLimit = o.getFloat64("rateLimit", o.RateLimit)
	o.RateBurst = o.getInt("rateBurst", o.RateBurst)
	o.Interval = o.getDuration("interval", o.Interval)
	o.MaxFailures = o.getInt("monitor.maxFailures", o.MaxFailures)

	ct, err := codec.ParseCodecType(o.getString("codec", o.Codec.String()))
	if err != nil {
		return err
	}
	o.Codec = ct

	o.configureEtcd()
	o.configureEmulator()
	return o.configureLog()
}

func (o *Options) configureEtcd() {
	endpoints := o.vp.GetStringSlice("etcd.endpoints")
	// env values arrive as one comma separated string
	if len(endpoints) == 1 && strings.Contains(endpoints[0], ",") {
		endpoints = strings.Split(endpoints[0], ",")
	}
	if len(endpoints) > 0 {
		o.Etcd.Endpoints = endpoints
	}
	o.Etcd.TTL = o.getInt64("etcd.ttl", o.Etcd.TTL)
}

func (o *Options) configureEmulator() {
	o.Emulator.Listen = o.getString("emulator.listen", o.Emulator.Listen)
	o.Emulator.TempRaw = uint32(o.getInt64("emulator.tempRaw", int64(o.Emulator.TempRaw)))
}

func (o *Options) configureLog() error {
	if lvl := o.vp.GetString("logger.level"); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return err
		}
		o.Logger.Level = level
	}
	o.Logger.Dir = o.getString("logger.dir", o.Logger.Dir)
	o.Logger.LineNum = o.getBool("logger.lineNum", o.Logger.LineNum)
	return nil
}

// ClientOptions translates the settings into client options.
func (o *Options) ClientOptions() *client.Options {
	opts := client.NewOptions()
	opts.Transport.Library = o.Library
	opts.Timeout = o.Timeout
	opts.RateLimit = o.RateLimit
	opts.RateBurst = o.RateBurst
	return opts
}

// LoggerOptions translates the settings into logger options.
func (o *Options) LoggerOptions() *logger.Options {
	opts := logger.NewOptions()
	opts.Level = o.Logger.Level
	opts.Dir = o.Logger.Dir
	opts.LineNum = o.Logger.LineNum
	return opts
}

func (o *Options) getString(key string, defaultValue string) string {
	v := o.vp.GetString(key)
	if v == "" {
		return defaultValue
	}
	return v
}

func (o *Options) getBool(key string, defaultValue bool) bool {
	if !o.vp.IsSet(key) {
		return defaultValue
	}
	return o.vp.GetBool(key)
}

func (o *Options) getInt(key string, defaultValue int) int {
	v := o.vp.GetInt(key)
	if v == 0 {
		return defaultValue
	}
	return v
}

func (o *Options) getInt64(key string, defaultValue int64) int64 {
	v := o.vp.GetInt64(key)
	if v == 0 {
		return defaultValue
	}
	return v
}

func (o *Options) getFloat64(key string, defaultValue float64) float64 {
	v := o.vp.GetFloat64(key)
	if v == 0 {
		return defaultValue
	}
	return v
}

func (o *Options) getDuration(key string, defaultValue time.Duration) time.Duration {
	v := o.vp.GetDuration(key)
	if v == 0 {
		return defaultValue
	}
	return v
}

// NewViper returns a viper instance reading MRPC_* environment variables and, when
// cfgFile is set, that file.
func NewViper(cfgFile string) (*viper.Viper, error) {
	vp := viper.New()
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp, nil
}

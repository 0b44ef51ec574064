package command

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"switchtec-mrpc/transport"
)

// DieTemperature triggers a fresh sample and reads it back, in degrees Celsius.
// The read is not attempted when the trigger fails.
func DieTemperature(ctx context.Context, ch transport.Channel) (float64, error) {
	if err := TriggerMeasurement(ctx, ch); err != nil {
		return 0, err
	}

	raw, err := ReadDieTemperature(ctx, ch)
	if err != nil {
		return 0, err
	}
	return Celsius(raw), nil
}

// TriggerMeasurement asks the endpoint to take a new temperature sample.
func TriggerMeasurement(ctx context.Context, ch transport.Channel) error {
	in, err := binaryCodec.Encode(DieTempSetMeasurement)
	if err != nil {
		return &CommandError{Op: "dietemp_set_meas", Err: err}
	}
	if _, err := ch.Exchange(ctx, CmdDieTemp, in, 0); err != nil {
		return &CommandError{Op: "dietemp_set_meas", Err: err}
	}
	return nil
}

// ReadDieTemperature returns the last sample in hundredths of a degree Celsius.
func ReadDieTemperature(ctx context.Context, ch transport.Channel) (uint32, error) {
	in, err := binaryCodec.Encode(DieTempGet)
	if err != nil {
		return 0, &CommandError{Op: "dietemp_get", Err: err}
	}

	out, err := ch.Exchange(ctx, CmdDieTemp, in, 4)
	if err != nil {
		return 0, &CommandError{Op: "dietemp_get", Err: err}
	}

	var raw uint32
	if err := binaryCodec.Decode(out, &raw); err != nil {
		return 0, &CommandError{Op: "dietemp_get", Err: errors.Wrap(err, "decode reply")}
	}
	return raw, nil
}

// Celsius converts a raw reading (hundredths of a degree) to degrees.
func Celsius(raw uint32) float64 {
	return float64(raw) / 100.0
}

// FormatTemperature renders a reading the way the CLI prints it.
func FormatTemperature(celsius float64) string {
	return fmt.Sprintf("Die Temp: %.1f°C", celsius)
}

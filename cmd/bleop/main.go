package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/blemux/internal/ble"
	"github.com/chaz8081/blemux/internal/publish"
)

func main() {
	app := cli.NewApp()
	app.Name = "bleop"
	app.Usage = "run a single BLE operation or scan, printing JSON records"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "Log engine activity to stderr",
		},
		cli.StringFlag{
			Name:  "topic",
			Value: "tele/bleop/SENSOR",
			Usage: "Topic printed in front of each record",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "op",
			Usage: "Connect to a device, read and/or write a characteristic, optionally wait for a notification",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "mac, m",
					Usage: "Device address, e.g. 00:1A:22:09:2E:E0",
				},
				cli.StringFlag{
					Name:  "service, s",
					Usage: "Service UUID",
				},
				cli.StringFlag{
					Name:  "char, c",
					Usage: "Characteristic UUID to read or write",
				},
				cli.StringFlag{
					Name:  "write, w",
					Usage: "Hex payload to write",
				},
				cli.BoolFlag{
					Name:  "read, r",
					Usage: "Read the characteristic",
				},
				cli.StringFlag{
					Name:  "notify, n",
					Usage: "Characteristic UUID to wait on for a notification",
				},
				cli.DurationFlag{
					Name:  "timeout, t",
					Value: 10 * time.Second,
					Usage: "How long to wait for the notification",
				},
			},
			Action: opCommand,
		},
		cli.Command{
			Name:  "scan",
			Usage: "Scan passively and print advertisements",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "duration, d",
					Value: 10 * time.Second,
					Usage: "Scan window",
				},
				cli.BoolFlag{
					Name:  "all, a",
					Usage: "Print every advertisement instead of once per device",
				},
			},
			Action: scanCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if c.GlobalBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func enabledAdapter() (*ble.TinyGoAdapter, error) {
	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func opCommand(c *cli.Context) (err error) {
	logger := newLogger(c)
	op := ble.NewOperation(c.String("mac"), c.String("service"), c.String("char"))
	op.Read = c.Bool("read")
	op.NotifyCharacteristic = c.String("notify")
	op.NotifyTimeout = c.Duration("timeout")
	if hex := c.String("write"); hex != "" {
		data, err := ble.ParseHex(hex)
		if err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
		if err := op.SetWrite(data); err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
	}

	adapter, err := enabledAdapter()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	engine := ble.NewEngine(adapter, nil, ble.DefaultEngineOptions(), logger)
	pub := publish.NewPublisher(publish.NewLineSink(os.Stdout), c.GlobalString("topic"), logger)

	done := make(chan struct{})
	op.OnComplete = func(op *ble.Operation) ble.Verdict {
		if err := pub.PublishOperation(op); err != nil {
			logger.Error("[PUB] record not published", "error", err)
		}
		close(done)
		return ble.Claimed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = engine.Run(ctx)
	}()

	if err := engine.Submit(op); err != nil {
		stop()
		<-stopped
		return cli.NewExitError(err.Error(), 2)
	}
	<-done
	stop()
	<-stopped

	if op.State().IsFailure() {
		return cli.NewExitError(fmt.Sprintf("operation %d: %s", op.ID, op.State()), 1)
	}
	return nil
}

func scanCommand(c *cli.Context) (err error) {
	logger := newLogger(c)
	window := c.Duration("duration")

	adapter, err := enabledAdapter()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	opts := publish.AdvertOptions{PerSecond: 0, SeenCacheSize: 1024, RepeatInterval: window + time.Second}
	if c.Bool("all") {
		opts.RepeatInterval = 0
	}
	pub := publish.NewPublisher(publish.NewLineSink(os.Stdout), c.GlobalString("topic"), logger)
	adverts, err := publish.NewAdvertPublisher(pub, opts, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	scanner := ble.NewScanner(adapter, nil, ble.ScannerOptions{Window: window}, logger)
	scanner.SetUnclaimedHandler(adverts.HandleAdvertisement)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sum, err := scanner.ScanOnce(ctx, window)
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Fprintf(os.Stderr, "%d advertisements from %d devices in %s\n",
		sum.Advertisements, sum.Devices, sum.Duration.Round(time.Millisecond))
	return nil
}

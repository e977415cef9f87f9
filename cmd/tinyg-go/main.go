// tinyg-go is the motion controller host. It runs the full G-code
// pipeline over the configured motor bank, accepts G-code from a
// serial device, a TCP socket or stdin, and serves the status API
// for user interfaces.
//
// Usage:
//
//	tinyg-go [options]
//
// Options:
//
//	-config string    Machine profile file (built-in profile when empty)
//	-device string    G-code input: tty path, tcp:host:port, or empty for stdin
//	-baud int         Serial baud rate (default 115200)
//	-api string       Status API listen address (default ":7130", empty disables)
//	-offsets string   Coordinate offset store (default "offsets.yaml", empty disables)
//	-logfile string   Log file path (default stdout)
//	-trace            Enable debug tracing
//
// Examples:
//
//	# Run against the built-in profile, G-code on stdin
//	tinyg-go
//
//	# Serve a G-code sender on a USB serial adapter
//	tinyg-go -config cnc.cfg -device /dev/ttyUSB0
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/controller"
	"tinyg-go-migration/pkg/endstop"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/persist"
	"tinyg-go-migration/pkg/report"
	"tinyg-go-migration/pkg/serial"
	"tinyg-go-migration/pkg/stepper"
)

func main() {
	configFile := flag.String("config", "", "Machine profile file (built-in profile when empty)")
	device := flag.String("device", "", "G-code input: tty path, tcp:host:port, or empty for stdin")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	apiAddr := flag.String("api", ":7130", "Status API listen address (empty disables)")
	offsetsPath := flag.String("offsets", "offsets.yaml", "Coordinate offset store (empty disables)")
	logFile := flag.String("logfile", "", "Log file path (default stdout)")
	trace := flag.Bool("trace", false, "Enable debug tracing")
	flag.Parse()

	logger := log.New("tinyg")
	if *logFile != "" {
		fileLogger, writer, err := log.NewFileLogger("tinyg", log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		logger = fileLogger
	}
	if *trace {
		logger.SetLevel(log.DEBUG)
	}

	cfg := config.Default()
	if *configFile != "" {
		parsed, err := config.ParseMachineConfig(*configFile)
		if err != nil {
			logger.WithError(err).Error("config parse failed")
			os.Exit(1)
		}
		cfg = parsed
	}

	var motorCfgs []*config.MotorConfig
	for _, mc := range cfg.Motors {
		if mc != nil {
			motorCfgs = append(motorCfgs, mc)
		}
	}
	set := stepper.NewSimMotorSet(motorCfgs)
	for _, m := range set.Motors {
		m.Enable()
		logger.WithFields(log.Fields{
			"motor":          m.Name(),
			"axis":           config.AxisNames[m.Axis()],
			"steps_per_unit": m.StepsPerUnit(),
		}).Info("motor configured")
	}

	ctrl := controller.Assemble(cfg, set.Motors)
	switches := attachTravelSwitches(ctrl, cfg, set)

	if *offsetsPath != "" {
		store := persist.NewStore(*offsetsPath)
		work, g92, ok, err := store.Load()
		if err != nil {
			logger.WithError(err).Warn("offset store unreadable, starting clean")
		} else if ok {
			ctrl.Machine().LoadOffsets(work, g92)
			logger.WithField("path", store.Path()).Info("offsets restored")
		}
		ctrl.Machine().SetOffsetStore(store)
	}

	var api *report.Server
	if *apiAddr != "" {
		adapter := report.NewAdapter(ctrl)
		for _, sw := range switches {
			adapter.TrackSwitch(sw)
		}
		api = report.New(report.Config{Addr: *apiAddr, Machine: adapter, Metrics: ctrl.Metrics()})
		go func() {
			if err := api.Start(); err != nil {
				logger.WithError(err).Error("api server stopped")
			}
		}()
		logger.WithField("addr", *apiAddr).Info("status api listening")
	}

	in, out, closeInput, err := openInput(*device, *baud)
	if err != nil {
		logger.WithError(err).Error("input open failed")
		os.Exit(1)
	}

	ctrl.OnResult(func(r controller.Result) {
		if r.Err != nil {
			fmt.Fprintf(out, "error: %s\n", r.Err)
			return
		}
		fmt.Fprintln(out, "ok")
	})
	ctrl.OnStatus(func(st canon.Status) {
		b, err := json.Marshal(st)
		if err != nil {
			return
		}
		fmt.Fprintf(out, "%s\n", b)
	})

	ctrl.Start()
	logger.Info("controller running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		serveInput(ctrl, in, out, logger)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case <-done:
		logger.Info("input closed, shutting down")
	}

	closeInput()
	ctrl.Stop()
	if api != nil {
		api.Stop()
	}
}

// openInput resolves the -device flag into a byte stream and the
// writer that carries line responses back to the sender.
func openInput(device string, baud int) (io.Reader, io.Writer, func(), error) {
	switch {
	case device == "":
		return os.Stdin, os.Stdout, func() {}, nil
	case strings.HasPrefix(device, "tcp:"):
		port, err := serial.OpenTCP(strings.TrimPrefix(device, "tcp:"), 10*time.Second)
		if err != nil {
			return nil, nil, nil, err
		}
		return port, port, func() { port.Close() }, nil
	default:
		pcfg := serial.DefaultConfig()
		pcfg.Device = device
		pcfg.BaudRate = baud
		port, err := serial.Open(pcfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return port, port, func() { port.Close() }, nil
	}
}

// serveInput pumps the sender byte stream into the controller. Line
// submission blocks on EAGAIN so a fast sender is throttled by the
// planner queue rather than overrunning it.
func serveInput(ctrl *controller.Controller, in io.Reader, out io.Writer, logger *log.Logger) {
	lr := serial.NewLineReader(in)
	lr.OnCommand = ctrl.SubmitCommand

	for {
		line, err := lr.ReadLine()
		if err != nil {
			if stderrors.Is(err, serial.ErrTimeout) {
				continue
			}
			if stderrors.Is(err, serial.ErrLineTooLong) {
				fmt.Fprintf(out, "error: %s\n", err)
				continue
			}
			if err != io.EOF && !stderrors.Is(err, serial.ErrClosed) {
				logger.WithError(err).Error("input read failed")
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		for {
			err := ctrl.SubmitLine(line)
			if err == nil {
				break
			}
			if errors.Is(err, errors.CodeEagain) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			fmt.Fprintf(out, "error: %s\n", err)
			break
		}
	}
}

// attachTravelSwitches wires a homing/limit switch at the low end of
// travel for every enabled axis that has a motor. The switch closes
// just past soft travel so normal motion never trips it.
func attachTravelSwitches(ctrl *controller.Controller, cfg *config.MachineConfig, set *stepper.SimMotorSet) []*endstop.Switch {
	var switches []*endstop.Switch
	for i, name := range config.AxisNames {
		ax := cfg.Axes[name]
		if ax == nil || ax.Mode == config.AxisDisabled || ax.SearchVelocity <= 0 {
			continue
		}
		var motor *stepper.Motor
		for _, m := range set.Motors {
			if m.Axis() == i {
				motor = m
				break
			}
		}
		if motor == nil {
			continue
		}
		trip := ax.TravelMin - 0.5
		spu := motor.StepsPerUnit()
		sw := endstop.New(endstop.SwitchConfig{
			Name: name + "_min",
			Axis: name,
			Mode: config.SwitchHomingLimit,
			Type: config.SwitchNormallyOpen,
		})
		m := motor
		sw.SetQueryCallback(func() (bool, error) {
			return float64(m.Position())/spu <= trip, nil
		})
		ctrl.RegisterSwitch(i, false, sw)
		switches = append(switches, sw)
	}
	return switches
}

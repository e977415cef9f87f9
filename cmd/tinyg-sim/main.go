// tinyg-sim runs a G-code program through the full motion pipeline
// against simulated motors and prints what the machine would do. It
// is the offline harness for checking programs and profiles without
// hardware: every line is parsed, planned and stepped exactly as the
// host binary would, and the step counts land on recording pins.
//
// Usage:
//
//	tinyg-sim [options] program.gcode
//
// Options:
//
//	-config string   Machine profile file (built-in profile when empty)
//	-verbose         Echo each line with its result
//	-status          Print the final machine status as JSON
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/executor"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/stepper"
)

type simRun struct {
	cfg     *config.MachineConfig
	set     *stepper.SimMotorSet
	queue   *planner.Planner
	exec    *executor.Executor
	machine *canon.Machine
	interp  *gcode.Interpreter

	lines  int
	failed int
	resume bool
}

func newSimRun(cfg *config.MachineConfig) *simRun {
	var motorCfgs []*config.MotorConfig
	for _, mc := range cfg.Motors {
		if mc != nil {
			motorCfgs = append(motorCfgs, mc)
		}
	}
	set := stepper.NewSimMotorSet(motorCfgs)
	for _, m := range set.Motors {
		m.Enable()
	}

	queue := planner.New(&cfg.Planner)
	dda := stepper.NewDDA(set.Motors, &cfg.Executor)
	exec := executor.New(cfg, queue, dda)
	machine := canon.New(cfg, queue)
	machine.SetCycleRunner(exec)
	exec.SetPositionSink(machine)

	r := &simRun{
		cfg:     cfg,
		set:     set,
		queue:   queue,
		exec:    exec,
		machine: machine,
		interp:  gcode.NewInterpreter(machine),
	}
	exec.SetHandlers(executor.Handlers{
		Spindle: func(mode planner.SpindleMode, rpm float64) {
			fmt.Printf(";; spindle %s %.0f rpm\n", spindleName(mode), rpm)
		},
		Coolant: func(mode planner.CoolantMode) {
			fmt.Printf(";; coolant %s\n", coolantName(mode))
		},
		Tool: func(tool int) {
			fmt.Printf(";; tool change T%d\n", tool)
		},
		// program stop pauses the machine; a batch run releases it
		// on the next step so the program keeps going
		Stop: func() {
			fmt.Println(";; program stop, continuing")
			r.resume = true
		},
		End: func() {
			fmt.Println(";; program end")
		},
	})
	return r
}

// feed interprets one line and steps the pipeline until the planner
// accepts it, so slow motion drains the queue instead of overflowing.
func (r *simRun) feed(raw string, verbose bool) {
	r.lines++
	for {
		err := r.interp.ExecuteLine(raw)
		if err == nil {
			if verbose {
				fmt.Printf("ok    %s\n", raw)
			}
			return
		}
		if errors.Is(err, errors.CodeBufferFull) {
			if _, serr := r.step(); serr != nil {
				r.failed++
				fmt.Printf("error %s: %s\n", raw, serr)
				return
			}
			continue
		}
		r.failed++
		fmt.Printf("error %s: %s\n", raw, err)
		return
	}
}

// step runs one executor pass and releases a pending program stop
// once the directive handler has returned.
func (r *simRun) step() (bool, error) {
	busy, err := r.exec.Step()
	if r.resume {
		r.resume = false
		r.machine.CycleStart()
		busy = true
	}
	return busy, err
}

func (r *simRun) drain() {
	for {
		busy, err := r.step()
		if err != nil {
			fmt.Printf("error draining queue: %s\n", err)
			r.failed++
			return
		}
		if !busy {
			return
		}
	}
}

func (r *simRun) summary() {
	pos := r.exec.Position()
	fmt.Println()
	fmt.Printf("lines: %d  errors: %d\n", r.lines, r.failed)
	fmt.Println("motor        axis      steps      pulses    position")
	for _, m := range r.set.Motors {
		axis := config.AxisNames[m.Axis()]
		fmt.Printf("%-12s %-4s %10d  %10d  %10.4f\n",
			m.Name(), axis, m.Position(), m.Pulses(), pos[m.Axis()])
	}
}

func spindleName(mode planner.SpindleMode) string {
	switch mode {
	case planner.SpindleCW:
		return "cw"
	case planner.SpindleCCW:
		return "ccw"
	default:
		return "off"
	}
}

func coolantName(mode planner.CoolantMode) string {
	switch mode {
	case planner.CoolantMist:
		return "mist"
	case planner.CoolantFlood:
		return "flood"
	default:
		return "off"
	}
}

func main() {
	configFile := flag.String("config", "", "Machine profile file (built-in profile when empty)")
	verbose := flag.Bool("verbose", false, "Echo each line with its result")
	status := flag.Bool("status", false, "Print the final machine status as JSON")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		parsed, err := config.ParseMachineConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		cfg = parsed
	}

	var src io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening program: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		src = f
	}

	r := newSimRun(cfg)

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.feed(line, *verbose)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading program: %v\n", err)
		os.Exit(1)
	}
	r.drain()
	r.summary()

	if *status {
		b, err := json.MarshalIndent(r.machine.Snapshot(), "", "  ")
		if err == nil {
			fmt.Printf("%s\n", b)
		}
	}
	if r.failed > 0 {
		os.Exit(1)
	}
}

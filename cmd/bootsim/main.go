// Command bootsim drives the swap core against a simulated flash device
// described by a HuJSON scenario file. It has two subcommands: run
// (execute to completion or interruption and report) and step (an
// interactive one-operation-at-a-time REPL whose inspect command dumps the
// session's trailer state).
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/d3zd3z/swapcore/internal/flashsim"
	"github.com/d3zd3z/swapcore/internal/scenario"
	"github.com/d3zd3z/swapcore/pkg/swap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		code, err := runCmd(os.Args[2:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "bootsim:", err)
			os.Exit(1)
		}
		os.Exit(code)
	case "step":
		if err := stepCmd(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "bootsim:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bootsim <run|step> --scenario <path> [flags]")
}

// runCmd builds the scenario, requests an upgrade, and drives Startup to
// completion (retrying through simulated interruptions), returning the
// bootloader exit-code convention from swap.ExitCode.
func runCmd(args []string) (int, error) {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	scenarioPath := fs.StringP("scenario", "s", "", "path to a HuJSON scenario file")
	reportPath := fs.StringP("report", "r", "", "path to write a JSON run report")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *scenarioPath == "" {
		return 1, fmt.Errorf("run: --scenario is required")
	}

	cfg, err := scenario.LoadConfig(*scenarioPath)
	if err != nil {
		return 1, err
	}

	built, err := scenario.Build(cfg)
	if err != nil {
		return 1, err
	}
	if err := built.Swap.RequestUpgrade(); err != nil {
		return 1, fmt.Errorf("run: request upgrade: %w", err)
	}

	attempts, runErr := scenario.RunToCompletion(built, swap.Sizes{cfg.SizeA, cfg.SizeB}, cfg.Prefix)

	report := scenario.Report{
		Name:     cfg.Name,
		Passed:   runErr == nil,
		Attempts: attempts,
		Steps:    built.Driver.Stepper().Count(),
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if *reportPath != "" {
		if err := scenario.WriteReport(*reportPath, report); err != nil {
			return 1, err
		}
	}

	if runErr != nil {
		fmt.Printf("%s: FAILED after %d attempt(s): %v\n", cfg.Name, attempts, runErr)
	} else {
		fmt.Printf("%s: passed in %d attempt(s), %d flash operations\n", cfg.Name, attempts, report.Steps)
	}

	return swap.ExitCode(runErr), nil
}

// stepCmd opens an interactive REPL (via peterh/liner) that executes the
// scenario's Startup one simulated flash operation at a time, so an operator
// can watch recovery decisions unfold step by step.
func stepCmd(args []string) error {
	fs := pflag.NewFlagSet("step", pflag.ExitOnError)
	scenarioPath := fs.StringP("scenario", "s", "", "path to a HuJSON scenario file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenarioPath == "" {
		return fmt.Errorf("step: --scenario is required")
	}

	cfg, err := scenario.LoadConfig(*scenarioPath)
	if err != nil {
		return err
	}
	built, err := scenario.Build(cfg)
	if err != nil {
		return err
	}
	if err := built.Swap.RequestUpgrade(); err != nil {
		return fmt.Errorf("step: request upgrade: %w", err)
	}

	slot1, err := built.Driver.Open(1)
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("bootsim step session - commands: next, inspect, status, quit")
	for {
		input, err := line.Prompt("bootsim> ")
		if err != nil {
			return nil
		}
		line.AppendHistory(input)

		switch strings.TrimSpace(input) {
		case "next":
			stepOnce(built)
		case "inspect":
			dump, err := swap.DumpTrailer(slot1)
			if err != nil {
				fmt.Println("inspect:", err)
				continue
			}
			printDump(dump)
		case "status":
			fmt.Printf("operations so far: %d\n", built.Driver.Stepper().Count())
		case "quit", "exit":
			return nil
		case "":
			// ignore blank lines
		default:
			fmt.Println("unknown command:", input)
		}
	}
}

func stepOnce(built *scenario.Built) {
	budget := built.Driver.Stepper().Count() + 1
	built.Driver.Stepper().Reset(budget)

	err := built.Swap.Startup()
	switch {
	case err == nil:
		fmt.Println("startup complete")
	case isPowerLoss(err):
		fmt.Printf("operation %d executed, simulated power loss\n", budget)
	default:
		fmt.Println("error:", err)
	}
}

func isPowerLoss(err error) bool {
	return errors.Is(err, flashsim.ErrExpired)
}

func printDump(d *swap.TrailerDump) {
	fmt.Printf("phase: %s (authoritative: %q)\n", d.Phase, d.Authoritative)
	printPage("ult", d.Ult)
	printPage("penult", d.Penult)
}

func printPage(name string, p swap.TrailerPageDump) {
	fmt.Printf("  %s @%#x: written=%v magic=%v valid=%v seq=%d phase=%s sizes=%v\n",
		name, p.Offset, p.Written, p.HasMagic, p.ValidIntegrity, p.Seq, p.Phase, p.Sizes)
}

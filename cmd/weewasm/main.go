package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weewasm/weewasm/cmd/weewasm/run"
	"github.com/weewasm/weewasm/cmd/weewasm/stats"
	"github.com/weewasm/weewasm/wasm"
)

var version = "<unknown>"

func configureCLI() *cobra.Command {
	var cpuProfile string
	var memProfile string
	var verbose bool

	rootCommand := &cobra.Command{
		Use:           "weewasm",
		Short:         "weewasm WebAssembly runtime",
		Long:          "weewasm - a runtime for the i32/f64 subset of WebAssembly",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				wasm.SetLogger(logger)
			}
			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return err
				}
				pprof.StartCPUProfile(f)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile != "" {
				pprof.StopCPUProfile()
			}

			if memProfile != "" {
				f, err := os.Create(memProfile)
				if err != nil {
					return err
				}
				runtime.GC()
				pprof.WriteHeapProfile(f)
			}

			return nil
		},
	}

	rootCommand.AddCommand(run.Command())
	rootCommand.AddCommand(stats.Command())

	rootCommand.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log loading, linking and compilation")
	rootCommand.PersistentFlags().StringVar(&cpuProfile, "cpu", "", "emit Go CPU profile data to this path")
	rootCommand.PersistentFlags().StringVar(&memProfile, "mem", "", "emit Go memory profile data to this path")

	rootCommand.PersistentFlags().MarkHidden("cpu")
	rootCommand.PersistentFlags().MarkHidden("mem")

	return rootCommand
}

func main() {
	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

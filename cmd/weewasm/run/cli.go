package run

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weewasm/weewasm/wasm"
	"github.com/weewasm/weewasm/wasm/interpreter"
	"github.com/weewasm/weewasm/wasm/jit"
)

// hostFunctions is the module every guest sees as "weewasm": puti prints
// an i32 and putd an f64, each followed by a newline.
func hostFunctions() (*wasm.HostFunctions, error) {
	imports := wasm.NewHostFunctions()
	err := imports.Register("weewasm", "puti", func(ctx *wasm.HostFunctionCallContext, v int32) {
		fmt.Println(v)
	})
	if err != nil {
		return nil, err
	}
	err = imports.Register("weewasm", "putd", func(ctx *wasm.HostFunctionCallContext, v float64) {
		fmt.Println(v)
	})
	if err != nil {
		return nil, err
	}
	return imports, nil
}

// parseParams converts command line arguments following the declared
// parameter types of the entry function.
func parseParams(sig *wasm.FunctionType, args []string) ([]wasm.Value, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("entry function takes %d arguments, got %d", len(sig.Params), len(args))
	}
	params := make([]wasm.Value, len(args))
	for i, arg := range args {
		switch sig.Params[i] {
		case wasm.ValueTypeI32:
			v, err := strconv.ParseInt(arg, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = wasm.I32Value(int32(v))
		case wasm.ValueTypeF64:
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			params[i] = wasm.F64Value(v)
		}
	}
	return params, nil
}

func instantiate(module *wasm.Module, imports *wasm.HostFunctions, useJIT bool) (*wasm.Instance, error) {
	if !useJIT {
		return wasm.NewInstance(module, imports, interpreter.NewEngine())
	}
	instance, err := wasm.NewInstance(module, imports, jit.NewEngine())
	var cerr *wasm.CompileError
	if errors.As(err, &cerr) {
		wasm.Logger().Warn("native compilation failed, falling back to the interpreter", zap.Error(cerr))
		return wasm.NewInstance(module, imports, interpreter.NewEngine())
	}
	return instance, err
}

func Command() *cobra.Command {
	var useJIT bool
	var entry string

	command := &cobra.Command{
		Use:   "run [path to module] [arguments]",
		Short: "Run a WebAssembly module",
		Long:  "Run a WebAssembly module, passing any trailing arguments to its entry function.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("expected at least one argument")
			}

			binary, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			module, err := wasm.DecodeModule(binary)
			if err != nil {
				return err
			}

			imports, err := hostFunctions()
			if err != nil {
				return err
			}
			instance, err := instantiate(module, imports, useJIT)
			if err != nil {
				return err
			}

			export, ok := instance.Exports[entry]
			if !ok || export.Kind != wasm.ExportKindFunction {
				return fmt.Errorf("%s: no exported function %q", args[0], entry)
			}
			params, err := parseParams(export.Function.Signature, args[1:])
			if err != nil {
				return err
			}

			results, err := instance.Call(entry, params...)
			if err != nil {
				var trap wasm.Trap
				if errors.As(err, &trap) {
					fmt.Println("!trap")
				}
				return err
			}
			for _, result := range results {
				switch result.Kind() {
				case wasm.ValueKindI32:
					fmt.Println(result.I32())
				case wasm.ValueKindF64:
					fmt.Println(result.F64())
				}
			}
			return nil
		},
	}

	command.PersistentFlags().BoolVar(&useJIT, "jit", false, "compile to native code before running")
	command.PersistentFlags().StringVar(&entry, "entry", "main", "name of the exported entry function")

	return command
}

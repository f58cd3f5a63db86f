package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/cache"
	"github.com/arrayforge/arrayforge/pkg/compiler"
	"github.com/arrayforge/arrayforge/pkg/dispatch"
	"github.com/arrayforge/arrayforge/pkg/telemetry"
)

func newCompileCommand() *cobra.Command {
	var (
		backend         string
		replicas        int
		partitions      int
		devices         string
		disableSPMD     bool
		autoSPMD        bool
		disableMostOpts bool
		profileVersion  int64
		dumpIRTo        string
		output          string
		envOverrides    []string
		noCache         bool
	)

	cmd := &cobra.Command{
		Use:   "compile <module.mlir>",
		Short: "Compile a module through the persistent cache",
		Long: `Compile a textual IR module for a backend platform.

The compiled executable is looked up in the persistent compilation cache
first; on a miss the backend compiles and the result is written back when
the compile took long enough to be worth keeping.`,
		Example: `  # Compile for the default backend
  forge compile prog.mlir

  # Distributed layout with an explicit device assignment
  forge compile prog.mlir --replicas 2 --partitions 2 --devices "0,1;2,3"

  # Skip the cache and dump the IR seen by the compiler
  forge compile prog.mlir --no-cache --dump-ir-to ./dumps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			proj, err := loadProject(ctx)
			if err != nil {
				return err
			}
			if backend == "" {
				backend = proj.Build.Backend
			}
			if dumpIRTo == "" {
				dumpIRTo = proj.Build.DumpIRTo
			}

			module, err := compiler.LoadModule(args[0])
			if err != nil {
				return err
			}

			deviceAssignment, err := parseDeviceAssignment(devices)
			if err != nil {
				return err
			}
			overrides, err := parseEnvOverrides(envOverrides)
			if err != nil {
				return err
			}

			opts, err := compiler.DeriveOptions(compiler.DeriveParams{
				NumReplicas:              replicas,
				NumPartitions:            partitions,
				DeviceAssignment:         deviceAssignment,
				DisableSPMDPartitioning:  disableSPMD,
				UseAutoSPMDPartitioning:  autoSPMD,
				EnvOverrides:             overrides,
				ProfileVersionFlag:       profileVersion,
				DisableMostOptimizations: disableMostOpts || proj.Build.DisableMostOptimizations,
			})
			if err != nil {
				return err
			}

			var compileCache *cache.Cache
			if !noCache {
				compileCache, err = cache.Open(proj.Build.CacheDir)
				if err != nil {
					return err
				}
				defer compileCache.Close()
			}

			dispatcher, err := dispatch.New(compiler.DefaultRegistry(), compileCache, nil, nil, dispatch.Config{
				MinCompileTime:    time.Duration(proj.Build.CacheMinCompileSeconds * float64(time.Second)),
				StrictCacheErrors: proj.Build.StrictCacheErrors,
				DumpIRTo:          dumpIRTo,
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("module", module.Name).
				Str("backend", backend).
				Int("replicas", replicas).
				Int("partitions", partitions).
				Msg("Compiling module")

			tracer, err := newTracer()
			if err != nil {
				return err
			}
			defer tracer.Shutdown(ctx)
			ctx, span := tracer.StartCompileSpan(ctx, module.Name, backend)
			defer span.End()

			exec, err := dispatcher.Compile(ctx, backend, module, opts)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			if output != "" {
				if err := os.WriteFile(output, exec.Artifact, 0o644); err != nil {
					return fmt.Errorf("failed to write artifact: %w", err)
				}
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"module":       exec.ModuleName,
					"platform":     exec.Platform,
					"compile_time": exec.CompileTime.String(),
					"artifact_len": len(exec.Artifact),
					"output":       output,
				})
			}
			fmt.Printf("✓ %s compiled for %s in %s (%d bytes)\n",
				exec.ModuleName, exec.Platform, exec.CompileTime, len(exec.Artifact))
			if output != "" {
				fmt.Printf("Wrote %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "backend platform (default from project config)")
	cmd.Flags().IntVar(&replicas, "replicas", 1, "number of replicas")
	cmd.Flags().IntVar(&partitions, "partitions", 1, "number of partitions per replica")
	cmd.Flags().StringVar(&devices, "devices", "", `device assignment, rows split by ';', ids by ',' (e.g. "0,1;2,3")`)
	cmd.Flags().BoolVar(&disableSPMD, "disable-spmd", false, "disable SPMD partitioning")
	cmd.Flags().BoolVar(&autoSPMD, "auto-spmd", false, "enable automatic SPMD partitioning")
	cmd.Flags().BoolVar(&disableMostOpts, "disable-most-optimizations", false, "lower the backend optimization level to 0")
	cmd.Flags().Int64Var(&profileVersion, "profile-version", 0, "explicit FDO profile version (0 consults the profile service)")
	cmd.Flags().StringVar(&dumpIRTo, "dump-ir-to", "", "directory to dump compiler input IR into")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the compiled artifact to this path")
	cmd.Flags().StringArrayVar(&envOverrides, "set", nil, "backend option override as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the persistent compilation cache")

	return cmd
}

// parseDeviceAssignment parses "0,1;2,3" into rows of device ids.
func parseDeviceAssignment(s string) ([][]int, error) {
	if s == "" {
		return nil, nil
	}
	var rows [][]int
	for _, rowSpec := range strings.Split(s, ";") {
		var row []int
		for _, idSpec := range strings.Split(rowSpec, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(idSpec))
			if err != nil {
				return nil, fmt.Errorf("invalid device id %q", idSpec)
			}
			row = append(row, id)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseEnvOverrides parses repeated key=value flags.
func parseEnvOverrides(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, want key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}

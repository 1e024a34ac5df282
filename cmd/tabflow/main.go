package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tabflow/tabflow/pkg/api"
	"github.com/tabflow/tabflow/pkg/config"
	"github.com/tabflow/tabflow/pkg/engine"
	"github.com/tabflow/tabflow/pkg/models"
	"github.com/tabflow/tabflow/pkg/store"
)

var version = "dev"

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tabflow",
		Short:         "tabflow runs multi-step data pipelines over tabular files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			st, err := store.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			eng := engine.New(st, engine.Options{
				UploadDir:     cfg.UploadDir,
				OutputDir:     cfg.OutputDir,
				MaxConcurrent: cfg.MaxConcurrentExecutions,
				Logger:        log,
			})

			srv := api.NewServer(st, eng, log, cfg.UploadDir)
			log.Info("listening", slog.String("addr", cfg.ListenAddr))
			return srv.Router().Run(cfg.ListenAddr)
		},
	}
}

func runCmd(cfgPath *string) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var p models.Pipeline
			if err := yaml.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("parse pipeline: %w", err)
			}

			parameters := map[string]string{}
			for _, kv := range params {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("bad parameter %q, want key=value", kv)
				}
				parameters[k] = v
			}

			st := store.NewMemoryStore()
			eng := engine.New(st, engine.Options{
				UploadDir:     cfg.UploadDir,
				OutputDir:     cfg.OutputDir,
				MaxConcurrent: 1,
				Logger:        log,
			})

			id, err := eng.StartExecution(&p, parameters, "cli")
			if err != nil {
				return err
			}
			eng.Wait()

			exec, err := st.GetExecution(id)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(exec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if exec.Status != models.ExecCompleted {
				return fmt.Errorf("execution %s", exec.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "execution parameter (key=value, repeatable)")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gocdr/adapters/excel"
	"gocdr/app"
	"gocdr/internal"
	"gocdr/internal/cdr"
	"gocdr/internal/config"
	"gocdr/internal/container"
	"gocdr/internal/testkit"

	"github.com/spf13/cobra"
)

// LevelsFile maps each grouping factor of a fitted model to its level values.
const LevelsFile = "levels.json"

type tableFlags struct {
	path      string
	sheet     string
	obsCol    string
	deltaCol  string
	response  string
	impulses  string
	factors   string
	synthetic int
}

func (f *tableFlags) register(cmd *cobra.Command) {
	def := excel.DefaultExcelConfig()
	cmd.Flags().StringVar(&f.path, "data", "", "xlsx or csv impulse table (synthetic data when empty)")
	cmd.Flags().StringVar(&f.sheet, "sheet", def.Sheet, "worksheet to read")
	cmd.Flags().StringVar(&f.obsCol, "obs-col", def.ObservationColumn, "observation key column")
	cmd.Flags().StringVar(&f.deltaCol, "delta-col", def.TimeDeltaColumn, "time delta column")
	cmd.Flags().StringVar(&f.response, "response", def.ResponseColumn, "response column")
	cmd.Flags().StringVar(&f.impulses, "impulses", "", "comma-separated impulse columns")
	cmd.Flags().StringVar(&f.factors, "factors", "", "comma-separated grouping factor columns")
	cmd.Flags().IntVar(&f.synthetic, "synthetic-n", 256, "observations to generate when --data is empty")
}

func (f *tableFlags) config() excel.ExcelConfig {
	return excel.ExcelConfig{
		FilePath:          f.path,
		Sheet:             f.sheet,
		ObservationColumn: f.obsCol,
		TimeDeltaColumn:   f.deltaCol,
		ResponseColumn:    f.response,
		ImpulseColumns:    splitList(f.impulses),
		FactorColumns:     splitList(f.factors),
	}
}

// load reads the table, or generates one when no path is set. levels, when
// non-nil, maps factor values onto a fitted model's levels.
func (f *tableFlags) load(logger *internal.Logger, levels map[string][]string) (*excel.Dataset, []string, error) {
	if f.path == "" {
		gen := testkit.DefaultImpulseConfig()
		gen.Observations = f.synthetic
		g := testkit.NewImpulseGenerator(gen)
		b, err := g.Generate()
		if err != nil {
			return nil, nil, err
		}
		names := make(map[string][]string)
		for _, gf := range gen.Factors {
			for l := 0; l < gf.Levels; l++ {
				names[gf.Name] = append(names[gf.Name], fmt.Sprintf("%s%d", gf.Name, l))
			}
		}
		logger.Info("generated %d synthetic observations", b.Len())
		return &excel.Dataset{Batch: b, Factors: gen.Factors, LevelNames: names}, g.Names(), nil
	}

	cfg := f.config()
	data, err := excel.NewDataReader(cfg.FilePath, cfg.Sheet, logger).ReadData()
	if err != nil {
		return nil, nil, err
	}
	ds, err := excel.BuildDataset(data, cfg, levels)
	if err != nil {
		return nil, nil, err
	}
	return ds, cfg.ImpulseColumns, nil
}

func newFitCmd() *cobra.Command {
	var table tableFlags
	var epochs int
	var exportPath string

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a model and save it to MODEL_DIR",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appConfig, err := config.Load()
			if err != nil {
				return err
			}
			logger := internal.NewDefaultLogger()
			hp, err := config.LoadHyperparams(appConfig.Paths.HyperparamsFile)
			if err != nil {
				return err
			}
			if appConfig.Training.Seed != 0 {
				hp.Seed = appConfig.Training.Seed
			}
			logger.Info("hyperparameters:\n%s", hp.Report(2))

			c, err := container.New(appConfig, logger)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			if appConfig.Database.URL != "" {
				db, err := container.OpenDatabase(ctx, appConfig.Database.URL, appConfig.Database.MaxOpenConns)
				if err != nil {
					return err
				}
				if err := c.InitWithDatabase(ctx, db); err != nil {
					return err
				}
			}

			ds, names, err := table.load(logger, nil)
			if err != nil {
				return err
			}
			summary, err := cdr.Summarize(names, table.response, ds.Batch.Y, ds.Batch.Steps(), ds.Factors)
			if err != nil {
				return err
			}
			model, err := cdr.New(hp, summary, logger)
			if err != nil {
				return err
			}

			if epochs == 0 {
				epochs = appConfig.Training.Iterations
			}
			res, err := c.FitService.Fit(ctx, app.FitRequest{
				Model:    model,
				Data:     ds.Batch,
				Epochs:   epochs,
				LogEvery: appConfig.Training.LogEvery,
				ModelDir: appConfig.Paths.ModelDir,
			})
			if err != nil {
				return err
			}
			if err := writeLevels(appConfig.Paths.ModelDir, ds.LevelNames); err != nil {
				return err
			}

			ev, err := c.FitService.Evaluate(ctx, model, ds.Batch, hp.MinibatchSize)
			if err != nil {
				return err
			}
			logger.Info("run %s: step %d, training loss %.4f, log-likelihood %.2f", res.RunID, res.Step, ev.Loss, ev.LogLik)

			if exportPath == "" {
				exportPath = appConfig.Paths.ExportXLSX
			}
			if exportPath != "" {
				return export(model, ds.Batch, exportPath, logger)
			}
			return nil
		},
	}
	table.register(cmd)
	cmd.Flags().IntVar(&epochs, "epochs", 0, "passes over the data (default TRAIN_ITERATIONS)")
	cmd.Flags().StringVar(&exportPath, "export", "", "xlsx summary path (default EXPORT_XLSX)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var table tableFlags
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the parameter table and error diagnostics of a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load()
			if err != nil {
				return err
			}
			logger := internal.NewDefaultLogger()
			model, err := cdr.Load(appConfig.Paths.ModelDir, logger)
			if err != nil {
				return err
			}
			levels, err := readLevels(appConfig.Paths.ModelDir)
			if err != nil {
				return err
			}
			if out == "" {
				out = appConfig.Paths.ExportXLSX
			}
			if out == "" {
				return fmt.Errorf("an output path is required (--out or EXPORT_XLSX)")
			}
			if table.path == "" {
				return export(model, cdr.Batch{}, out, logger)
			}
			ds, _, err := table.load(logger, levels)
			if err != nil {
				return err
			}
			return export(model, ds.Batch, out, logger)
		},
	}
	table.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "xlsx summary path (default EXPORT_XLSX)")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var out string
	var gen = testkit.DefaultImpulseConfig()

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic impulse table with exponentially decaying responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			g := testkit.NewImpulseGenerator(gen)
			b, err := g.Generate()
			if err != nil {
				return err
			}
			cfg := excel.DefaultExcelConfig()
			cfg.ImpulseColumns = g.Names()
			names := make(map[string][]string)
			for _, gf := range gen.Factors {
				cfg.FactorColumns = append(cfg.FactorColumns, gf.Name)
				for l := 0; l < gf.Levels; l++ {
					names[gf.Name] = append(names[gf.Name], fmt.Sprintf("%s%d", gf.Name, l))
				}
			}
			if err := excel.WriteTable(out, excel.TableFromBatch(b, cfg, names)); err != nil {
				return err
			}
			fmt.Printf("wrote %d observations x %d steps to %s\n", b.Len(), b.Steps(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "impulses.xlsx", "output file (.xlsx or .csv)")
	cmd.Flags().IntVar(&gen.Observations, "rows", gen.Observations, "number of observations")
	cmd.Flags().IntVar(&gen.Impulses, "impulses", gen.Impulses, "number of impulse streams")
	cmd.Flags().IntVar(&gen.HistoryLength, "history", gen.HistoryLength, "impulses per observation")
	cmd.Flags().Float64Var(&gen.DecayRate, "decay", gen.DecayRate, "exponential IRF rate")
	cmd.Flags().Float64Var(&gen.NoiseSD, "noise", gen.NoiseSD, "response noise sd")
	cmd.Flags().Uint64Var(&gen.Seed, "seed", gen.Seed, "RNG seed (deterministic)")
	return cmd
}

func export(model *cdr.Model, b cdr.Batch, path string, logger *internal.Logger) error {
	s := excel.Summary{
		Settings:   model.Hyperparams().Pack(),
		Parameters: model.ParameterSummary(),
		Trackers:   model.TrackerSummary(),
	}
	if b.Len() > 0 && len(b.Y) > 0 {
		rep, err := model.ErrorDiagnostics(b, false)
		if err != nil {
			return err
		}
		s.Errors = &rep
	}
	if err := excel.WriteSummary(path, s); err != nil {
		return err
	}
	logger.Info("exported %d parameter rows to %s", len(s.Parameters), path)
	return nil
}

func writeLevels(dir string, levels map[string][]string) error {
	data, err := json.MarshalIndent(levels, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, LevelsFile), data, 0o644)
}

func readLevels(dir string) (map[string][]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, LevelsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var levels map[string][]string
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

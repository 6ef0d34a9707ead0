// Command riskctl runs the risk scoring operations offline and manages the
// analysis archive.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/badal-health/risk-server/internal/archive"
	"github.com/badal-health/risk-server/internal/config"
	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/service"
)

type app struct {
	cfg     *config.LiteConfig
	logger  *logrus.Logger
	noStore bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{cfg: config.LoadLiteConfig()}
	a.logger = a.cfg.NewLiteLogger()

	rootCmd := &cobra.Command{
		Use:           "riskctl",
		Short:         "Badal risk scoring from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&a.cfg.DataDir, "data-dir", a.cfg.DataDir, "Directory holding the analysis archive")
	rootCmd.PersistentFlags().BoolVar(&a.noStore, "no-archive", false, "Do not record results in the archive")
	rootCmd.PersistentFlags().StringVar(&a.cfg.ClassifierFile, "classifier", a.cfg.ClassifierFile, "YAML or JSON file overriding the classifier tables")

	rootCmd.AddCommand(a.geneticCmd())
	rootCmd.AddCommand(a.lesionCmd())
	rootCmd.AddCommand(a.conditionCmd())
	rootCmd.AddCommand(a.archiveCmd())

	return rootCmd
}

// withAnalysis builds an analysis service over the local archive.
func (a *app) withAnalysis(fn func(*service.AnalysisService) error) error {
	engine, err := a.cfg.NewRuleEngine()
	if err != nil {
		return err
	}
	deps := service.AnalysisDeps{
		Classifier: engine,
		Logger:     a.logger,
	}

	if !a.noStore {
		store, err := a.openArchive()
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Archive = store
	}

	svc, err := service.NewAnalysisService(deps)
	if err != nil {
		return err
	}
	return fn(svc)
}

func (a *app) openArchive() (*archive.SQLiteStore, error) {
	if err := a.cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return archive.NewSQLiteStore(a.cfg.ArchiveDBPath())
}

func (a *app) geneticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genetic <file>",
		Short: "Score the marker columns of a genetic spreadsheet (.xlsx, .xlsm, .csv)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return a.withAnalysis(func(svc *service.AnalysisService) error {
				result, err := svc.AnalyzeGeneticFile(cmd.Context(), nil, filepath.Base(args[0]), content)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func (a *app) lesionCmd() *cobra.Command {
	var probs []string

	cmd := &cobra.Command{
		Use:   "lesion",
		Short: "Classify lesion class probabilities, e.g. --prob mel=0.9 --prob nv=0.1",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseProbabilities(probs)
			if err != nil {
				return err
			}
			return a.withAnalysis(func(svc *service.AnalysisService) error {
				result, err := svc.ClassifyProbabilities(cmd.Context(), parsed)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringArrayVar(&probs, "prob", nil, "label=probability, repeatable")
	return cmd
}

func (a *app) conditionCmd() *cobra.Command {
	var (
		age    int
		bp     string
		temp   float64
		hr     int
		oxygen int
	)

	cmd := &cobra.Command{
		Use:   "condition",
		Short: "Predict a patient condition from age and vital signs",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.ConditionRequest{Age: &age}
			flags := cmd.Flags()
			if flags.Changed("bp") {
				req.Vitals.BloodPressure = &bp
			}
			if flags.Changed("temp") {
				req.Vitals.Temperature = &temp
			}
			if flags.Changed("hr") {
				req.Vitals.HeartRate = &hr
			}
			if flags.Changed("oxygen") {
				req.Vitals.OxygenLevel = &oxygen
			}

			return a.withAnalysis(func(svc *service.AnalysisService) error {
				resp, err := svc.PredictCondition(cmd.Context(), nil, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp.Condition)
			})
		},
	}
	cmd.Flags().IntVar(&age, "age", 0, "Patient age in years")
	cmd.Flags().StringVar(&bp, "bp", domain.DefaultBloodPressure, "Blood pressure, systolic/diastolic")
	cmd.Flags().Float64Var(&temp, "temp", domain.DefaultTemperature, "Temperature in Fahrenheit")
	cmd.Flags().IntVar(&hr, "hr", domain.DefaultHeartRate, "Heart rate in beats per minute")
	cmd.Flags().IntVar(&oxygen, "oxygen", 0, "Oxygen saturation percentage")
	_ = cmd.MarkFlagRequired("age")
	return cmd
}

func (a *app) archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the analysis archive",
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every archived analysis as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			if output == "" {
				output = filepath.Join(a.cfg.ExportDir(), fmt.Sprintf("analyses-%s.json", time.Now().UTC().Format("20060102-150405")))
			}
			if output == "-" {
				return store.ExportJSON(cmd.Context(), cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()

			if err := store.ExportJSON(cmd.Context(), f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default: timestamped file in the export directory)")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import analyses from a JSON export, skipping known ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening import file: %w", err)
			}
			defer f.Close()

			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			imported, skipped, err := store.ImportJSON(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", imported, skipped)
			return nil
		},
	}

	cmd.AddCommand(exportCmd)
	cmd.AddCommand(importCmd)
	return cmd
}

// parseProbabilities parses label=probability pairs. Label and range
// validation are left to the classifier.
func parseProbabilities(pairs []string) (map[domain.LesionClass]float64, error) {
	probs := make(map[domain.LesionClass]float64, len(pairs))
	for _, pair := range pairs {
		label, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --prob %q, want label=probability", pair)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid probability in %q: %w", pair, err)
		}
		probs[domain.LesionClass(strings.ToLower(strings.TrimSpace(label)))] = p
	}
	return probs, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samijaber1/storepulse/internal/classify"
	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/engine"
	"github.com/samijaber1/storepulse/internal/outreach"
	"github.com/samijaber1/storepulse/internal/rules"
	"github.com/samijaber1/storepulse/internal/storage/sqlite"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateDir := validateCmd.String("dir", "", "directory containing escalation rule YAML files")

	evaluateCmd := flag.NewFlagSet("evaluate", flag.ExitOnError)
	evaluateDB := evaluateCmd.String("db", "storepulse.db", "SQLite database path")
	evaluateRulesDir := evaluateCmd.String("rules-dir", "rules", "directory containing escalation rule YAML files")
	evaluateOrg := evaluateCmd.String("org", "", "organization")
	evaluateStore := evaluateCmd.String("store", "", "store id to evaluate")
	evaluateDate := evaluateCmd.String("date", time.Now().UTC().Format("2006-01-02"), "business date (yyyy-mm-dd)")

	classifyCmd := flag.NewFlagSet("classify", flag.ExitOnError)
	classifyValue := classifyCmd.Float64("value", 0, "observed metric value")
	classifyBaseline := classifyCmd.Float64("baseline", 0, "comparison baseline value")
	classifyBasis := classifyCmd.String("basis", "rolling_4w", "comparison basis (rolling_4w|same_period_ly|absolute|budget)")
	classifyGreenMin := classifyCmd.Float64("green-min", -2, "minimum variance%% for green")
	classifyYellowMin := classifyCmd.Float64("yellow-min", -8, "minimum variance%% for yellow")
	classifyRed := classifyCmd.Float64("red-threshold", -8, "variance%% at or below which red is severe")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if *validateDir == "" {
			fmt.Fprintln(os.Stderr, "Error: --dir flag is required")
			validateCmd.Usage()
			os.Exit(1)
		}
		os.Exit(runValidate(*validateDir))
	case "evaluate":
		evaluateCmd.Parse(os.Args[2:])
		if *evaluateStore == "" || *evaluateOrg == "" {
			fmt.Fprintln(os.Stderr, "Error: --store and --org flags are required")
			evaluateCmd.Usage()
			os.Exit(1)
		}
		os.Exit(runEvaluate(*evaluateDB, *evaluateRulesDir, *evaluateOrg, *evaluateStore, *evaluateDate))
	case "classify":
		classifyCmd.Parse(os.Args[2:])
		os.Exit(runClassify(*classifyValue, *classifyBaseline, *classifyBasis, *classifyGreenMin, *classifyYellowMin, *classifyRed))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: storepulse <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  validate --dir <path>    Validate escalation rule YAML files in a directory")
	fmt.Println("  evaluate [options]       Run one evaluation pass for a store against the database")
	fmt.Println("  classify [options]       Classify a metric value against thresholds")
	fmt.Println()
}

func runValidate(dirPath string) int {
	schemaPath := findSchemaFile()
	if schemaPath == "" {
		fmt.Fprintln(os.Stderr, "Error: could not find schemas/escalation_rule_v1.json")
		return 1
	}

	validator, err := rules.NewValidator(schemaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize validator: %v\n", err)
		return 1
	}

	errors := validator.ValidateDirectory(dirPath)

	if len(errors) == 0 {
		fmt.Println("✓ All rule files are valid")
		return 0
	}

	// Group errors by file
	errorsByFile := make(map[string][]rules.ValidationError)
	for _, err := range errors {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintf(os.Stderr, "✗ Validation failed with %d error(s):\n\n", len(errors))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			if err.Path != "" {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", filepath.Base(err.File), err.Path, err.Message)
			} else {
				fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(err.File), err.Message)
			}
		}
	}

	return 1
}

func runEvaluate(dbPath, rulesDir, org, storeID, date string) int {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		fmt.Fprintf(os.Stderr, "Error: date %q is not yyyy-mm-dd\n", date)
		return 1
	}

	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	ruleFiles, loadErrors := rules.LoadFromDirectory(rulesDir)
	if len(loadErrors) > 0 {
		for _, lerr := range loadErrors {
			fmt.Fprintf(os.Stderr, "Error: %v\n", lerr)
		}
		return 1
	}
	ruleSet := make([]domain.EscalationRule, 0, len(ruleFiles))
	for _, rf := range ruleFiles {
		ruleSet = append(ruleSet, rf.Rule.ToDomain())
	}

	eng := engine.New(store, rules.NewEvaluator(ruleSet), outreach.NewLogDialer(), engine.Options{
		Organization: org,
	})

	snap, err := eng.ProcessStore(context.Background(), storeID, date, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: evaluation failed: %v\n", err)
		return 1
	}

	fmt.Printf("store:     %s (%s)\n", snap.StoreID, snap.Date)
	fmt.Printf("status:    %s\n", snap.OverallStatus)
	fmt.Printf("score:     %.1f\n", snap.HealthScore)
	fmt.Printf("counts:    %d green / %d yellow / %d red / %d unknown\n",
		snap.GreenCount, snap.YellowCount, snap.RedCount, snap.UnknownCount)
	fmt.Printf("level:     %d\n", snap.EscalationLevel)
	if snap.Summary != "" {
		fmt.Printf("summary:   %s\n", snap.Summary)
	}
	return 0
}

func runClassify(value, baseline float64, basis string, greenMin, yellowMin, redThreshold float64) int {
	th := &domain.KpiThreshold{
		GreenMin:     greenMin,
		YellowMin:    yellowMin,
		RedThreshold: redThreshold,
	}

	result := classify.Classify(value, baseline, domain.ComparisonBasis(basis), th)

	fmt.Printf("status:    %s\n", result.Status)
	if result.Status != domain.StatusUnknown {
		fmt.Printf("variance:  %+.2f%%\n", result.VariancePct)
	}
	if result.Reason != "" {
		fmt.Printf("reason:    %s\n", result.Reason)
	}

	if result.Status == domain.StatusUnknown {
		return 1
	}
	return 0
}

// findSchemaFile looks for the schema file in common locations
func findSchemaFile() string {
	candidates := []string{
		"schemas/escalation_rule_v1.json",
		"../schemas/escalation_rule_v1.json",
		"../../schemas/escalation_rule_v1.json",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

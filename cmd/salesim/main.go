package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"tgeledger/observability/logging"
	"tgeledger/scenario"
)

func main() {
	path := flag.String("scenario", "", "Scenario file or directory of scenario files")
	builtin := flag.Bool("builtin", false, "Run the built-in scenarios")
	only := flag.String("run", "", "Only run scenarios whose name contains this string")
	format := flag.String("format", "text", "Report format: text or json")
	logLevel := flag.String("log-level", "warn", "Ledger log level")
	flag.Parse()

	logger := logging.SetupWithOptions(logging.Options{Service: "salesim", Level: *logLevel})
	code, err := run(context.Background(), os.Stdout, options{
		path:    *path,
		builtin: *builtin,
		only:    *only,
		format:  *format,
		logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "salesim: %v\n", err)
	}
	os.Exit(code)
}

type options struct {
	path    string
	builtin bool
	only    string
	format  string
	logger  *slog.Logger
}

// run executes the selected scenarios and writes one report per scenario.
// The exit code is 0 when all pass, 1 when an expectation failed and 2 on
// usage or load errors.
func run(ctx context.Context, out io.Writer, opts options) (int, error) {
	if opts.format != "text" && opts.format != "json" {
		return 2, fmt.Errorf("unknown format %q", opts.format)
	}
	var scenarios []*scenario.Scenario
	if opts.builtin {
		builtins, err := scenario.Builtin()
		if err != nil {
			return 2, err
		}
		scenarios = append(scenarios, builtins...)
	}
	if opts.path != "" {
		loaded, err := scenario.LoadPath(opts.path)
		if err != nil {
			return 2, err
		}
		scenarios = append(scenarios, loaded...)
	}
	if len(scenarios) == 0 {
		return 2, errors.New("nothing to run: pass -scenario or -builtin")
	}

	failed := 0
	encoder := json.NewEncoder(out)
	for _, sc := range scenarios {
		if opts.only != "" && !strings.Contains(sc.Name, opts.only) {
			continue
		}
		report, err := scenario.Run(ctx, sc, scenario.Options{Logger: opts.logger})
		if err != nil && !errors.Is(err, scenario.ErrExpectation) {
			return 2, err
		}
		if !report.Passed() {
			failed++
		}
		if opts.format == "json" {
			if err := encoder.Encode(report); err != nil {
				return 2, err
			}
			continue
		}
		writeText(out, report)
	}
	if failed > 0 {
		return 1, fmt.Errorf("%d scenario(s) failed", failed)
	}
	return 0, nil
}

func writeText(out io.Writer, report *scenario.Report) {
	status := "PASS"
	if !report.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(out, "%s %s (%d steps, %d events)\n", status, report.Scenario, len(report.Steps), report.Events)
	for _, step := range report.Steps {
		for _, failure := range step.Failures {
			label := step.Call
			if step.Name != "" {
				label = step.Name
			}
			fmt.Fprintf(out, "    step %d %s: %s\n", step.Index, label, failure)
		}
	}
}

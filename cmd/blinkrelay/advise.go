package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/blinkrelay/advisory"
	"github.com/c360/blinkrelay/config"
)

type adviseOptions struct {
	URL          string
	EnvFile      string
	Timeout      time.Duration
	Accuracy     float64
	Target       string
	Typed        string
	ResponseTime time.Duration
	Responses    []time.Duration
}

func newAdviseCmd() *cobra.Command {
	opts := &adviseOptions{}
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Ask the advisory service for a new scanning speed",
		Long: `advise reports the accuracy and mean response time of the previous round
to the advisory service and prints the adjusted scanning interval.

Accuracy is given directly with --accuracy or computed from --target and
--typed. The response time is --response-time or the mean of --responses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdvise(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "", "Advisory endpoint (env: BLINKRELAY_ADVISORY_URL)")
	f.StringVar(&opts.EnvFile, "env-file", ".env", "Path to a .env file, skipped when missing")
	f.DurationVar(&opts.Timeout, "timeout", 0, "Request timeout")
	f.Float64Var(&opts.Accuracy, "accuracy", 0, "Accuracy of the previous round, 0 to 1")
	f.StringVar(&opts.Target, "target", "", "Target phrase of the previous round")
	f.StringVar(&opts.Typed, "typed", "", "Phrase typed in the previous round")
	f.DurationVar(&opts.ResponseTime, "response-time", 0, "Mean response time of the previous round")
	f.DurationSliceVar(&opts.Responses, "responses", nil, "Individual response times, averaged")
	cmd.MarkFlagsMutuallyExclusive("accuracy", "target")
	cmd.MarkFlagsRequiredTogether("target", "typed")
	cmd.MarkFlagsMutuallyExclusive("response-time", "responses")
	return cmd
}

func runAdvise(cmd *cobra.Command, opts *adviseOptions) error {
	logger, err := loggerFor(cmd)
	if err != nil {
		return err
	}

	loader := config.NewLoader()
	if opts.EnvFile != "" {
		loader.AddDotEnv(opts.EnvFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	acfg := advisory.DefaultConfig()
	acfg.URL = cfg.Advisory.URL
	acfg.Timeout = cfg.Advisory.Timeout
	if opts.URL != "" {
		acfg.URL = opts.URL
	}
	if opts.Timeout > 0 {
		acfg.Timeout = opts.Timeout
	}

	client, err := advisory.NewClient(acfg, nil, logger)
	if err != nil {
		return err
	}

	accuracy := opts.Accuracy
	if cmd.Flags().Changed("target") {
		accuracy = advisory.Accuracy(opts.Target, opts.Typed)
	}
	response := opts.ResponseTime
	if len(opts.Responses) > 0 {
		response = advisory.MeanResponse(opts.Responses)
	}

	advisor := advisory.NewAdvisor(client)
	speed, err := advisor.Adjust(cmd.Context(), accuracy, response)
	out := cmd.OutOrStdout()
	if err != nil {
		_, _ = fmt.Fprintf(out, "scanning speed unchanged: %s\n", speed)
		return fmt.Errorf("advisory request failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "scanning speed: %s (accuracy %.2f, response %s)\n", speed, accuracy, response)
	return nil
}

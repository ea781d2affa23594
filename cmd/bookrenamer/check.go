package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/bookrenamer/internal/llm/openai"
)

var checkModel string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the completion service and the ledger are reachable",
	Long: `Sends a short "Say OK" prompt and reports whether the service answered as expected, then
pings the rename ledger when one is configured.`,
	RunE: runCheckCmd,
}

func init() {
	checkCmd.Flags().StringVar(&checkModel, "model", "", "Model to ping (defaults to the fallback model)")
}

func runCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireLLM(); err != nil {
		return err
	}

	model := checkModel
	if model == "" {
		model = cfg.LLM.FallbackModel
	}
	client := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	}, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLM.Timeout)
	defer cancel()

	reply, ok, err := client.Ping(ctx, model)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if ok {
		goodColor.Fprintf(out, "Service: OK (%s at %s)\n", model, cfg.LLM.BaseURL)
	} else {
		warnColor.Fprintf(out, "Service: reachable, but %s replied %q\n", model, reply)
	}

	ledger, err := openLedger(cmd.Context(), cfg, logger)
	if err != nil {
		badColor.Fprintf(out, "Ledger: FAIL (%v)\n", err)
		return err
	}
	if ledger == nil {
		fmt.Fprintln(out, "Ledger: disabled")
		return nil
	}
	defer ledger.Close()
	if err := ledger.HealthCheck(cmd.Context(), 3*time.Second); err != nil {
		badColor.Fprintf(out, "Ledger: FAIL (%v)\n", err)
		return err
	}
	goodColor.Fprintln(out, "Ledger: OK")
	return nil
}

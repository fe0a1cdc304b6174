package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	service "github.com/okian/typerace/internal/app"
	"github.com/okian/typerace/internal/config"
	"github.com/okian/typerace/internal/domain/anticheat"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

// fixture is a recorded submission. Thresholds come from the loaded config so
// tuning can be tried against real recordings.
type fixture struct {
	ClientWPM    float64                 `json:"clientWpm"`
	CertifiedWPM float64                 `json:"certifiedWpm,omitempty"`
	Samples      []model.KeystrokeSample `json:"samples"`
}

func newValidateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <fixture.json>",
		Short: "Run the keystroke analysis on a recorded submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(cmd.Context(), cmd.OutOrStdout(), args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func validate(ctx context.Context, w io.Writer, path string, asJSON bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := sonnet.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("decode fixture %s: %w", path, err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var cert *model.Certification
	if fx.CertifiedWPM > 0 {
		cert = &model.Certification{CertifiedWPM: fx.CertifiedWPM}
	}
	res := anticheat.Analyze(fx.Samples, fx.ClientWPM, service.ThresholdsFrom(cfg), cert)

	if asJSON {
		out, err := sonnet.Marshal(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}

	verdict := "valid"
	switch {
	case res.Insufficient:
		verdict = "insufficient samples"
	case !res.Valid:
		verdict = "invalid"
	case res.RequiresReview:
		verdict = "valid, needs review"
	}
	flags := "-"
	if len(res.Flags) > 0 {
		flags = strings.Join(res.Flags, ",")
	}
	_, err = fmt.Fprintf(w, "verdict: %s\nsamples: %d\nserver wpm: %.1f\nclient wpm: %.1f\naccuracy: %.1f\ninterval ms: mean %.1f min %.1f max %.1f stddev %.1f\nflags: %s\n",
		verdict, res.SampleCount, res.ServerWPM, res.ClientWPM, res.Accuracy,
		res.MeanIntervalMs, res.MinIntervalMs, res.MaxIntervalMs, res.StdDevMs, flags)
	return err
}

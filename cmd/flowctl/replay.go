package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/cobra"

	"FlowScope/internal/di"
	"FlowScope/internal/domain/models"
	"FlowScope/internal/services/feed"
	"FlowScope/internal/usecase"
	"FlowScope/pkg/config"
	applogger "FlowScope/pkg/logger"
)

const maxLine = 4 << 20

// replayer feeds JSON lines through a private session. The session clock follows
// each snapshot's update time, or advances by step when a line carries none.
type replayer struct {
	session *usecase.Session
	now     time.Time
	step    time.Duration
	tf      models.Timeframe
	useATR  bool
	skipped int
	l       *applogger.Logger
}

func newReplayer(engine config.EngineConfig, tf models.Timeframe, step time.Duration, useATR bool, l *applogger.Logger) *replayer {
	r := &replayer{now: time.UnixMilli(0), step: step, tf: tf, useATR: useATR, l: l}
	r.session = di.EngineSession(engine, nil,
		usecase.WithSessionClock(func() time.Time { return r.now }),
		usecase.WithSessionLogger(l),
	)
	return r
}

// run returns the number of snapshots ingested. Malformed lines are counted and skipped.
func (r *replayer) run(ctx context.Context, in io.Reader) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		snap, err := feed.Sanitize(line)
		if err != nil {
			r.skipped++
			r.l.Debug("skipping line", applogger.Error(err))
			continue
		}
		if snap.UpdateTime > 0 {
			r.now = time.UnixMilli(snap.UpdateTime)
		} else {
			r.now = r.now.Add(r.step)
		}
		if _, err := r.session.IngestSnapshot(ctx, snap); err != nil {
			r.skipped++
			continue
		}
		if _, err := r.session.Recommendation(snap.Coin, r.tf, r.useATR, true); err != nil {
			return n, fmt.Errorf("recommend %s: %w", snap.Coin, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read snapshots: %w", err)
	}
	return n, nil
}

type coinSummary struct {
	Coin           string                  `json:"coin"`
	Analytics      *models.AnalyticsRecord `json:"analytics"`
	Recommendation models.Recommendation   `json:"recommendation"`
}

func (r *replayer) summaries(coins []string) ([]coinSummary, error) {
	out := make([]coinSummary, 0, len(coins))
	for _, coin := range coins {
		rec, err := r.session.Recommendation(coin, r.tf, r.useATR, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", coin, err)
		}
		a, _ := r.session.Analytics(coin)
		out = append(out, coinSummary{Coin: coin, Analytics: a, Recommendation: rec})
	}
	return out, nil
}

func (r *replayer) coins(only string) []string {
	if only != "" {
		return []string{only}
	}
	coins := r.session.Coins()
	sort.Strings(coins)
	return coins
}

type replayFlags struct {
	file   string
	coin   string
	tf     string
	step   time.Duration
	useATR bool
}

func (f *replayFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "JSON-lines snapshot file, - for stdin")
	cmd.Flags().StringVar(&f.coin, "coin", "", "only report this coin")
	cmd.Flags().StringVar(&f.tf, "tf", string(models.DefaultTimeframe()), "timeframe for recommendations")
	cmd.Flags().DurationVar(&f.step, "step", time.Minute, "clock step for snapshots without an update time")
	cmd.Flags().BoolVar(&f.useATR, "atr", false, "size TP/SL from ATR")
}

func (f *replayFlags) replay(cmd *cobra.Command) (*replayer, error) {
	engine, err := engineConfig(cmd)
	if err != nil {
		return nil, err
	}
	tf := models.NormalizeTimeframe(f.tf)
	if !models.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unknown timeframe %q", f.tf)
	}
	in := cmd.InOrStdin()
	if f.file != "-" {
		fh, err := os.Open(f.file)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		in = fh
	}
	r := newReplayer(engine, tf, f.step, f.useATR, applogger.NewWriter(cmd.ErrOrStderr()))
	n, err := r.run(cmd.Context(), in)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d snapshots, skipped %d\n", n, r.skipped)
	if f.coin != "" {
		if _, ok := r.session.Snapshot(f.coin); !ok {
			return nil, fmt.Errorf("coin %s: %w", f.coin, usecase.ErrUnknownCoin)
		}
	}
	return r, nil
}

func engineConfig(cmd *cobra.Command) (config.EngineConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var e config.EngineConfig
		if err := defaults.Set(&e); err != nil {
			return e, err
		}
		return e, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.EngineConfig{}, err
	}
	return cfg.Engine, nil
}

func newAnalyzeCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Replay snapshots and print the latest analytics and recommendation per coin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.replay(cmd)
			if err != nil {
				return err
			}
			out, err := r.summaries(r.coins(f.coin))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	f.bind(cmd)
	return cmd
}

type backtestOutput struct {
	Backtest models.BacktestReport `json:"backtest"`
	Risk     *models.RiskReport    `json:"risk,omitempty"`
}

func newBacktestCmd() *cobra.Command {
	var f replayFlags
	var lookback int
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay snapshots and score the logged recommendations against later prices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.replay(cmd)
			if err != nil {
				return err
			}
			out := make([]backtestOutput, 0)
			for _, coin := range r.coins(f.coin) {
				bt, err := r.session.Backtest(coin)
				if err != nil {
					return err
				}
				o := backtestOutput{Backtest: bt}
				if risk, err := r.session.RiskReport(coin, lookback); err == nil {
					o.Risk = &risk
				}
				out = append(out, o)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	f.bind(cmd)
	cmd.Flags().IntVar(&lookback, "lookback", 100, "risk lookback in points")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

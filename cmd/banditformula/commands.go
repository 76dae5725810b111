package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/eda"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/pool"
	"github.com/sw965/banditformula/search"
)

func (a *app) discovery() (*search.Discovery, error) {
	newState, err := a.cfg.Search.Factory()
	if err != nil {
		return nil, err
	}
	mode, err := a.cfg.Fingerprint.ParseMode()
	if err != nil {
		return nil, err
	}
	o, err := a.objective()
	if err != nil {
		return nil, err
	}
	policy, err := a.cfg.Pool.InnerPolicy()
	if err != nil {
		return nil, err
	}
	reward, err := a.cfg.Pool.RewardFunc()
	if err != nil {
		return nil, err
	}
	maxDepth, err := a.cfg.Search.EnumerationMaxDepth()
	if err != nil {
		return nil, err
	}
	return &search.Discovery{
		NewState:   newState,
		MaxDepth:   maxDepth,
		Battery:    a.battery(),
		Mode:       mode,
		Required:   a.cfg.Fingerprint.Required,
		Objective:  o,
		Policy:     policy,
		Reward:     reward,
		Iterations: a.cfg.Pool.Iterations,
		Pulls:      a.cfg.Pool.Pulls,
		Top:        a.cfg.Pool.Top,
		Reporter:   a.reporter,
		Display:    &bandit.Domain,
	}, nil
}

func (a *app) enumerateCmd() *cobra.Command {
	var outPath string
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "enumerate",
		Short: "Enumerate the formulas of the builder and keep one per fingerprint",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum number of builder actions (default search.enumeration_depth)")
	cmd.RunE = a.runE(func(ctx context.Context, _ []string) error {
		if maxDepth > 0 {
			a.cfg.Search.EnumerationDepth = maxDepth
		}
		d, err := a.discovery()
		if err != nil {
			return err
		}
		set, enumerated, err := d.Unique(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("列挙完了", "enumerated", enumerated, "unique", set.Len(), "rejected", set.Rejected())

		w := a.out
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		fmt.Fprintf(w, "# enumerated=%d unique=%d rejected=%d\n", enumerated, set.Len(), set.Rejected())
		formulas := set.Formulas()
		labeled := make([]expr.Labeled, len(formulas))
		for i, f := range formulas {
			labeled[i] = expr.Labeled{Formula: f}
		}
		return expr.WriteFormulas(w, labeled)
	})
	return cmd
}

func (a *app) evaluateCmd() *cobra.Command {
	var runs int
	var truthPath string
	cmd := &cobra.Command{
		Use:   "evaluate <formulas>",
		Short: "Evaluate every formula of a file a fixed number of times",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().IntVarP(&runs, "runs", "n", 0, "evaluations per formula (default pool.runs)")
	cmd.Flags().StringVar(&truthPath, "write-truth", "", "write the formulas labeled with their mean reward")
	cmd.RunE = a.runE(func(_ context.Context, args []string) error {
		ls, err := a.loadFormulas(args[0])
		if err != nil {
			return err
		}
		if runs <= 0 {
			runs = a.cfg.Pool.Runs
		}
		o, err := a.objective()
		if err != nil {
			return err
		}
		reward, err := a.cfg.Pool.RewardFunc()
		if err != nil {
			return err
		}
		formulas := formulasOf(ls)
		summaries, err := pool.PlayNTimes(formulas, pool.FormulaEvaluator(o, formulas), reward, runs, a.cfg.Pool.Workers, a.rng)
		if err != nil {
			return err
		}
		if err := pool.WriteSummaries(a.out, summaries, &bandit.Domain); err != nil {
			return err
		}
		if truthPath == "" {
			return nil
		}
		truth := make([]expr.Labeled, len(summaries))
		for i, s := range summaries {
			truth[i] = expr.Labeled{Formula: s.Formula, Label: s.RewardMean, HasLabel: true}
		}
		f, err := os.Create(truthPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return expr.WriteFormulas(f, truth)
	})
	return cmd
}

func writeRanked(w io.Writer, ranked []pool.Ranked) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tformula\tmean reward\tmean regret\tplays")
	for i, r := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%d\n", i+1, r.Formula.Short(&bandit.Domain), r.MeanReward, r.MeanRegret, r.Count)
	}
	return tw.Flush()
}

func (a *app) poolCmd() *cobra.Command {
	var formulasPath string
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Allocate evaluations among formulas with a bandit over formulas",
		Long: "Without --formulas the builder's formulas are enumerated and deduplicated first.\n" +
			"When every formula of --formulas carries a label, it is used as the true\n" +
			"expected reward and regret of the pool is reported.",
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&formulasPath, "formulas", "f", "", "formula file")
	cmd.RunE = a.runE(func(ctx context.Context, _ []string) error {
		d, err := a.discovery()
		if err != nil {
			return err
		}
		if formulasPath == "" {
			res, err := d.Run(ctx, a.rng)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "# enumerated=%d unique=%d rejected=%d\n", res.Enumerated, len(res.Formulas), res.Rejected)
			return writeRanked(a.out, res.Best)
		}

		ls, err := a.loadFormulas(formulasPath)
		if err != nil {
			return err
		}
		formulas := formulasOf(ls)
		p := pool.New(formulas, d.Policy, pool.FormulaEvaluator(d.Objective, formulas))
		p.Reward = d.Reward
		p.Reporter = a.reporter
		p.Display = &bandit.Domain
		truth, _ := labelsOf(ls)
		reports, err := p.Run(ctx, d.Iterations, d.Pulls, truth, a.rng)
		if err != nil {
			return err
		}
		if last := reports[len(reports)-1]; last.HasTruth {
			fmt.Fprintf(a.out, "# simple_regret=%g cumulative_regret=%g\n", last.SimpleRegret, last.CumulativeRegret)
		}
		return writeRanked(a.out, p.BestFormulas(d.Top))
	})
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search formula space for the formula with the lowest regret",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&driver, "driver", "receding", "search driver: receding, breadth or mcts")
	cmd.RunE = a.runE(func(ctx context.Context, _ []string) error {
		newState, err := a.cfg.Search.Factory()
		if err != nil {
			return err
		}
		o, err := a.objective()
		if err != nil {
			return err
		}
		score := a.scoreFunc(o)
		// validation runs on an uncached copy so it draws fresh episodes
		validation := *o
		validation.Cache = nil

		var res search.Result
		switch driver {
		case "receding":
			rh := search.RecedingHorizon{
				NewState:      newState,
				Score:         score,
				Validation:    validation.Score,
				Depth:         a.cfg.Search.Depth,
				MaxIterations: a.cfg.Search.MaxIterations,
				Reporter:      a.reporter,
			}
			res, err = rh.Run(ctx, a.rng)
		case "breadth":
			bf := search.BreadthFirst{
				NewState:   newState,
				Score:      score,
				Validation: validation.Score,
				MaxNodes:   a.cfg.Search.MaxNodes,
				Reporter:   a.reporter,
			}
			res, err = bf.Run(ctx, a.rng)
		case "mcts":
			m := search.MCTS{
				NewState:        newState,
				Score:           score,
				Validation:      validation.Score,
				Simulations:     a.cfg.Search.Simulations,
				MaxRolloutSteps: a.cfg.Search.RolloutSteps,
				C:               a.cfg.Search.Exploration,
				Reporter:        a.reporter,
			}
			res, err = m.Run(ctx, a.rng)
		default:
			return fmt.Errorf("未知のdriver: %q", driver)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "formula\t%s\n", res.Best)
		fmt.Fprintf(a.out, "short\t%s\n", res.Best.Short(&bandit.Domain))
		fmt.Fprintf(a.out, "score\t%g\n", res.Score)
		fmt.Fprintf(a.out, "validation\t%g\n", res.Validation)
		fmt.Fprintf(a.out, "evaluations\t%d\n", res.Evaluations)
		return nil
	})
	return cmd
}

func (a *app) tuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tune <formula>",
		Short: "Tune the learnable constants of a formula, e.g. B(add,V(rk),C(1!))",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		f, err := expr.Parse(args[0], &bandit.Domain)
		if err != nil {
			return err
		}
		if err := bandit.CheckFormula(f); err != nil {
			return err
		}
		o, err := a.objective()
		if err != nil {
			return err
		}
		// constants change every evaluation, so caching by formula is useless
		o.Cache = nil
		e := eda.Engine{
			Score:          a.scoreFunc(o),
			PopulationSize: a.cfg.EDA.Population,
			EliteSize:      a.cfg.EDA.Elite,
			Generations:    a.cfg.EDA.Generations,
			InitStd:        a.cfg.EDA.InitStd,
			MinStd:         a.cfg.EDA.MinStd,
			Workers:        a.cfg.EDA.Workers,
			Reporter:       a.reporter,
		}
		res, err := e.Run(ctx, f, a.rng)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "formula\t%s\n", res.Formula)
		fmt.Fprintf(a.out, "score\t%g\n", res.Score)
		fmt.Fprintf(a.out, "evaluations\t%d\n", res.Evaluations)
		return nil
	})
	return cmd
}

func (a *app) comparePolicies(names string) ([]pool.NamedPolicy, error) {
	if names == "" {
		return pool.DefaultComparePolicies(), nil
	}
	var ps []pool.NamedPolicy
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		f, err := bandit.ParsePolicy(name)
		if err != nil {
			return nil, err
		}
		ps = append(ps, pool.NamedPolicy{Name: name, Factory: f})
	}
	return ps, nil
}

func (a *app) compareCmd() *cobra.Command {
	var policies string
	var truthRuns int
	cmd := &cobra.Command{
		Use:   "compare <formulas>",
		Short: "Compare inner policies of the formula pool by simple regret",
		Long: "Labels of the formula file are used as true expected rewards; without\n" +
			"labels the truth is estimated with --truth-runs evaluations per formula.",
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&policies, "policies", "", "comma-separated inner policies (default: the standard set)")
	cmd.Flags().IntVar(&truthRuns, "truth-runs", 100, "evaluations per formula to estimate the truth")
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		ls, err := a.loadFormulas(args[0])
		if err != nil {
			return err
		}
		nps, err := a.comparePolicies(policies)
		if err != nil {
			return err
		}
		o, err := a.objective()
		if err != nil {
			return err
		}
		reward, err := a.cfg.Pool.RewardFunc()
		if err != nil {
			return err
		}
		formulas := formulasOf(ls)
		evaluate := pool.FormulaEvaluator(o, formulas)

		truth, ok := labelsOf(ls)
		if !ok {
			summaries, err := pool.PlayNTimes(formulas, evaluate, reward, truthRuns, a.cfg.Pool.Workers, a.rng)
			if err != nil {
				return err
			}
			truth = make([]float64, len(formulas))
			for _, s := range summaries {
				truth[s.Index] = s.RewardMean
			}
		}

		cmps, err := pool.ComparePolicies(ctx, pool.CompareConfig{
			Formulas:   formulas,
			Truth:      truth,
			Evaluate:   evaluate,
			Reward:     reward,
			Policies:   nps,
			Runs:       a.cfg.Pool.Runs,
			Iterations: a.cfg.Pool.Iterations,
			Pulls:      a.cfg.Pool.Pulls,
			Workers:    a.cfg.Pool.Workers,
			Reporter:   a.reporter,
		})
		if err != nil {
			return err
		}
		return writeComparisons(a.out, cmps)
	})
	return cmd
}

func writeComparisons(w io.Writer, cmps []pool.Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "policy\tsuccesses\tfinal simple regret\tstd")
	for _, c := range cmps {
		last := len(c.SimpleRegretMean) - 1
		fmt.Fprintf(tw, "%s\t%d/%d\t%.4f\t%.4f\n", c.Policy, c.Successes, c.Runs, c.SimpleRegretMean[last], c.SimpleRegretStd[last])
	}
	return tw.Flush()
}

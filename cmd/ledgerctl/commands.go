package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
)

var commands = []subcommands.Command{
	&recomputeCmd{},
	&reportCmd{},
	&adviseCmd{},
}

type recomputeCmd struct {
	ownerFlags
}

func (*recomputeCmd) Name() string     { return "recompute" }
func (*recomputeCmd) Synopsis() string { return "rebuild a budget's spending from its entries" }
func (*recomputeCmd) Usage() string {
	return `ledgerctl recompute -owner <id> [-p <YYYY-MM>]

  Recomputes the cached spending of one budget. Safe to run at any time.
`
}

func (c *recomputeCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *recomputeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.close()

	ctx, period, err := c.resolve(ctx, e.cfg.Location())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	budget, err := e.ledger.Recompute(ctx, period)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if budget == nil {
		fmt.Printf("%s has no budget, nothing to update\n", period)
		return subcommands.ExitSuccess
	}
	fmt.Printf("%s: spent %s of %s\n", period,
		core.FormatAmount(budget.CurrentSpending, e.cfg.Currency),
		core.FormatAmount(budget.MonthlyBudget, e.cfg.Currency))
	return subcommands.ExitSuccess
}

type reportCmd struct {
	ownerFlags
	window int
	raw    bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "print the analytics of a period" }
func (*reportCmd) Usage() string {
	return `ledgerctl report -owner <id> [-p <YYYY-MM>] [-w <days>] [-raw]

  Prints totals, the category breakdown, recent daily spending and the
  budget status of a period.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.IntVar(&c.window, "w", ledger.DefaultWindowDays, "Number of days in the daily breakdown.")
	f.BoolVar(&c.raw, "raw", false, "Print markdown without terminal styling.")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.close()

	ctx, period, err := c.resolve(ctx, e.cfg.Location())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	report, err := e.ledger.Analytics(ctx, period, time.Now(), c.window)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	md := reportMarkdown(report, e.cfg.Currency)
	if c.raw {
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	out, err := glamour.Render(md, "dark")
	if err != nil {
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

type adviseCmd struct {
	ownerFlags
}

func (*adviseCmd) Name() string     { return "advise" }
func (*adviseCmd) Synopsis() string { return "ask for advice on a period and record it in the chat" }
func (*adviseCmd) Usage() string {
	return `ledgerctl advise -owner <id> [-p <YYYY-MM>]
`
}

func (c *adviseCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *adviseCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.close()

	ctx, period, err := c.resolve(ctx, e.cfg.Location())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	msg, err := e.advisor.RequestAdvice(ctx, c.owner, period)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	out, err := glamour.Render(msg.Text, "dark")
	if err != nil {
		out = msg.Text + "\n"
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

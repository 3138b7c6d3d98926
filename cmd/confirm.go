package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/huh"

	"github.com/samsaffron/noma/internal/engine"
	"github.com/samsaffron/noma/internal/tools"
	"github.com/samsaffron/noma/internal/ui"
)

// askFunc asks the user about one pending call. It must give up once ctx
// ends.
type askFunc func(ctx context.Context, details tools.ConfirmationDetails) (tools.ConfirmOutcome, error)

// confirmer answers confirmation events for the scheduler. Without an ask
// function every call is denied.
type confirmer struct {
	scheduler *engine.Scheduler
	out       io.Writer
	styles    *ui.Styles
	ask       askFunc
	logger    *slog.Logger
}

func (c *confirmer) handle(ev engine.ToolCallConfirmationEvent) {
	c.show(ev.Details)

	ctx := context.Background()
	if !ev.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, ev.Deadline)
		defer cancel()
	}

	outcome := tools.Cancel
	if c.ask == nil {
		fmt.Fprintln(c.out, c.styles.Muted.Render("  not running interactively; denied"))
	} else if o, err := c.ask(ctx, ev.Details); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(c.out, c.styles.Muted.Render("  no answer in time; denied"))
		}
		c.logger.Debug("confirmation prompt failed", "call_id", ev.Request.CallID, "error", err)
	} else {
		outcome = o
	}

	if err := c.scheduler.Confirm(ev.Request.CallID, outcome); err != nil {
		c.logger.Warn("confirmation not delivered", "call_id", ev.Request.CallID, "error", err)
	}
}

// show prints what the call is about to do.
func (c *confirmer) show(d tools.ConfirmationDetails) {
	fmt.Fprintln(c.out, c.styles.Title.Render(d.Title))
	switch d.Type {
	case tools.ConfirmEdit:
		if d.Diff != "" {
			added, removed := ui.DiffStats(d.Diff)
			fmt.Fprintln(c.out, c.styles.Muted.Render(fmt.Sprintf("  %s (+%d -%d)", d.FilePath, added, removed)))
			ui.RenderUnifiedDiff(c.out, c.styles, d.Diff)
		}
	case tools.ConfirmExec:
		fmt.Fprintln(c.out, c.styles.Bold.Render("  $ "+d.Command))
	case tools.ConfirmMCP, tools.ConfirmInfo:
		if d.Prompt != "" {
			fmt.Fprintln(c.out, c.styles.Muted.Render(d.Prompt))
		}
	}
}

// approvalOptions lists the answers, naming what "always" covers.
func approvalOptions(d tools.ConfirmationDetails) []huh.Option[tools.ConfirmOutcome] {
	always := "Yes, and don't ask again this session"
	switch d.Type {
	case tools.ConfirmExec:
		if d.ApprovalKey != "" {
			always = fmt.Sprintf("Yes, and allow %q commands this session", d.ApprovalKey)
		}
	case tools.ConfirmMCP:
		always = fmt.Sprintf("Yes, and allow all %s tools this session", d.Server)
	case tools.ConfirmEdit:
		always = "Yes, and allow edits to this file this session"
	}
	return []huh.Option[tools.ConfirmOutcome]{
		huh.NewOption("Yes", tools.ProceedOnce),
		huh.NewOption(always, tools.ProceedAlways),
		huh.NewOption("No", tools.Cancel),
	}
}

// huhAsk prompts on the terminal. Aborting the form counts as a denial.
func huhAsk(ctx context.Context, d tools.ConfirmationDetails) (tools.ConfirmOutcome, error) {
	choice := tools.Cancel
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[tools.ConfirmOutcome]().
				Title("Allow this?").
				Options(approvalOptions(d)...).
				Value(&choice),
		),
	).WithShowHelp(false)
	if err := form.RunWithContext(ctx); err != nil {
		return tools.Cancel, err
	}
	return choice, nil
}

// console routes engine events to the renderer and the confirmer.
type console struct {
	renderer  *eventRenderer
	confirmer *confirmer
}

func newConsole(out io.Writer, scheduler *engine.Scheduler, logger *slog.Logger, interactive, markdown, showThoughts bool) *console {
	r := newEventRenderer(out, markdown, showThoughts)
	c := &confirmer{scheduler: scheduler, out: out, styles: r.styles, logger: logger}
	if interactive {
		c.ask = huhAsk
	}
	return &console{renderer: r, confirmer: c}
}

func (c *console) handle(ev engine.Event) {
	if e, ok := ev.(engine.ToolCallConfirmationEvent); ok {
		c.renderer.flush()
		c.confirmer.handle(e)
		return
	}
	c.renderer.handle(ev)
}

// finish ends the output of one prompt.
func (c *console) finish() {
	c.renderer.flush()
}

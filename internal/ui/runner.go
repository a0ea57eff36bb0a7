package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// RunnerConfig describes a timed operation shown as header, progress bar
// and result box.
type RunnerConfig struct {
	Title   string        // e.g., "Identify"
	Command string        // e.g., "roehn identify 00A1B2C3"
	Params  []Field       // Parameters shown in the header
	Expect  time.Duration // How long the operation is expected to take; zero hides the bar
	Output  io.Writer     // Output writer (default: os.Stdout)

	// Quiet suppresses the header and the progress bar. The result box is
	// still printed.
	Quiet bool
}

// Operation is the work a Runner wraps. The returned details are shown in
// the success box.
type Operation func(ctx context.Context) ([]Field, error)

// Runner prints a header, animates a progress bar while the operation runs
// and finishes with a success or failure box.
type Runner struct {
	config RunnerConfig
	output io.Writer
	width  int
	bar    progress.Model
	tick   time.Duration
}

// NewRunner creates a runner sized to the terminal
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()
	barWidth := min(max(width-20, 20), 50)
	return &Runner{
		config: config,
		output: config.Output,
		width:  width,
		bar: progress.New(
			progress.WithGradient(string(PrimaryColor), string(SuccessColor)),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
		tick: 100 * time.Millisecond,
	}
}

// Run executes op and reports its outcome. The operation's error is returned
// unchanged.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	start := time.Now()

	if !r.config.Quiet {
		h := NewHeader(r.config.Title, r.config.Command).SetWidth(r.width)
		h.Params = append(h.Params, r.config.Params...)
		_, _ = fmt.Fprintln(r.output, h.Render())
		_, _ = fmt.Fprintln(r.output)
	}

	stop := r.animate(start)
	details, err := op(ctx)
	stop()
	elapsed := time.Since(start).Round(time.Millisecond)

	var result *Result
	if err != nil {
		result = NewFailureResult(r.config.Title+" failed", err)
	} else {
		result = NewSuccessResult(r.config.Title + " complete")
		result.Details = append(result.Details, details...)
	}
	result.AddDetail("Duration", elapsed.String())
	_, _ = fmt.Fprintln(r.output, result.SetWidth(r.width).Render())
	return err
}

// animate redraws the bar in place until the returned stop func is called.
// The bar fills against the expected duration and holds just short of full
// if the operation overruns.
func (r *Runner) animate(start time.Time) (stop func()) {
	if r.config.Quiet || r.config.Expect <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(r.tick)
		defer t.Stop()
		for {
			elapsed := time.Since(start)
			pct := min(float64(elapsed)/float64(r.config.Expect), 0.99)
			_, _ = fmt.Fprint(r.output, r.renderBar(pct, elapsed)+"\r")
			select {
			case <-done:
				_, _ = fmt.Fprintln(r.output, r.renderBar(1, time.Since(start)))
				_, _ = fmt.Fprintln(r.output)
				return
			case <-t.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (r *Runner) renderBar(pct float64, elapsed time.Duration) string {
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%  %s", r.bar.ViewAs(pct), pct*100, elapsed.Round(100*time.Millisecond)))
}

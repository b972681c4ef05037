// Package progress reports pass progress and structured log messages to
// the operator. It wraps logrus for leveled, colorized messages and
// mpb for the per-pass progress bars, the way
// direktiv-vorteil/pkg/elog reports vorteil build/convert progress.
package progress

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Bar is one pass's progress indicator, counted in the pass's own units
// (resource groups, duplicate blocks, inodes or directories).
type Bar interface {
	Increment(n int64)
	Finish(success bool)
}

// Reporter is the narrow interface the core depends on (spec.md §1's
// "progress reporter" external collaborator): leveled messages plus the
// ability to open a per-pass bar.
type Reporter interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
	NewBar(label string, total int64) Bar
}

// CLI is a concrete Reporter writing to the terminal.
type CLI struct {
	DisableColors bool
	DisableTTY    bool
	Verbose       bool
	Quiet         bool

	mu        sync.Mutex
	container *mpb.Progress
	buffer    *bytes.Buffer
	openBars  int
}

func (r *CLI) Debugf(format string, args ...any) {
	if r.Verbose {
		logrus.Debugf(format, args...)
	}
}

func (r *CLI) Infof(format string, args ...any) {
	if !r.Quiet {
		logrus.Infof(format, args...)
	}
}

func (r *CLI) Warnf(format string, args ...any) {
	logrus.Warnf(format, args...)
}

func (r *CLI) Errorf(format string, args ...any) {
	logrus.Errorf(format, args...)
}

// NewBar opens a progress bar for one pass. When DisableTTY is set
// (non-interactive runs, or -q) or total is 0, it returns a no-op bar
// that displays and logs nothing.
func (r *CLI) NewBar(label string, total int64) Bar {
	if r.DisableTTY || total == 0 {
		return &nilBar{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.container == nil {
		r.buffer = new(bytes.Buffer)
		logrus.SetOutput(r.buffer)
		r.container = mpb.New(mpb.WithWidth(80))
	}
	r.openBars++

	b := r.container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &cliBar{reporter: r, bar: b, total: total}
}

type cliBar struct {
	reporter *CLI
	bar      *mpb.Bar
	total    int64
	current  int64
}

func (b *cliBar) Increment(n int64) {
	b.current += n
	b.bar.IncrInt64(n)
}

func (b *cliBar) Finish(success bool) {
	if b.current != b.total || !success {
		b.bar.Abort(false)
	}

	b.reporter.mu.Lock()
	defer b.reporter.mu.Unlock()
	b.reporter.openBars--
	if b.reporter.openBars == 0 {
		b.reporter.container.Wait()
		b.reporter.container = nil
		logrus.SetOutput(os.Stdout)
		_, _ = b.reporter.buffer.WriteTo(os.Stdout)
		b.reporter.buffer = nil
	}
}

type nilBar struct{ current, total int64 }

func (n *nilBar) Increment(v int64)  { n.current += v }
func (n *nilBar) Finish(success bool) {}

// Format implements logrus.Formatter, colorizing by level the way
// direktiv-vorteil's elog.CLI.Format does.
func (r *CLI) Format(entry *logrus.Entry) ([]byte, error) {
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	msg := entry.Message
	if !r.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel, logrus.DebugLevel:
			msg = blue(msg)
		case logrus.InfoLevel:
		case logrus.WarnLevel:
			msg = yellow(msg)
		case logrus.ErrorLevel:
			msg = red(msg)
		default:
			msg = faint(msg)
		}
	}
	return []byte(fmt.Sprintf("%s\n", msg)), nil
}

// Command fsck2 is the fsck.<fs> entry point of spec.md §6: parse the
// fixed flag set, build the prompt/progress collaborators, and hand off
// to the orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/clusterfs/gfsck2/internal/fserr"
	"github.com/clusterfs/gfsck2/internal/fsckctx"
	"github.com/clusterfs/gfsck2/internal/orchestrator"
	"github.com/clusterfs/gfsck2/internal/progress"
	"github.com/clusterfs/gfsck2/internal/prompt"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("fsck2", pflag.ContinueOnError)
	yes := flags.BoolP("yes", "y", false, "answer yes to every repair prompt")
	no := flags.BoolP("no", "n", false, "answer no to every repair prompt (read-only check)")
	quiet := flags.BoolP("quiet", "q", false, "suppress informational output")
	verbose := flags.BoolP("verbose", "v", false, "enable debug-level output")
	ceiling := flags.Int("dirty-ceiling", 0, "buffer cache dirty-byte soft ceiling (0 uses the default)")
	flags.BoolP("version", "V", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		return int(fserr.ExitUsage)
	}
	if v, _ := flags.GetBool("version"); v {
		fmt.Println("fsck2 (gfsck2)")
		return 0
	}
	if *yes && *no {
		fmt.Fprintln(os.Stderr, "fsck2: -y and -n are mutually exclusive")
		return int(fserr.ExitUsage)
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fsck2 [-hnqvVy] <device>")
		return int(fserr.ExitUsage)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	opts := fsckctx.Options{
		Device:       flags.Arg(0),
		AnswerYes:    *yes,
		AnswerNo:     *no,
		Quiet:        *quiet,
		Verbose:      *verbose,
		DirtyCeiling: *ceiling,
	}

	reporter := &progress.CLI{
		DisableTTY: *quiet || !isTerminal(os.Stdout),
		Verbose:    *verbose,
		Quiet:      *quiet,
	}

	p := choosePrompter(opts)

	result, err := orchestrator.Run(opts, reporter, p)
	if err != nil {
		reporter.Errorf("%s", err)
		return int(fserr.ExitCodeFor(err))
	}

	reporter.Infof("found %d problems, corrected %d", result.ErrorsFound, result.ErrorsCorrected)
	return int(result.Code)
}

func choosePrompter(opts fsckctx.Options) prompt.Prompter {
	switch {
	case opts.AnswerYes:
		return prompt.AlwaysYes{}
	case opts.AnswerNo:
		return prompt.AlwaysNo{}
	default:
		return prompt.NewInteractive(os.Stdin, os.Stdout)
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

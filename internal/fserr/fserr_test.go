package fserr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/clusterfs/gfsck2/internal/fserr"
)

func TestExitCodeForKinds(t *testing.T) {
	cases := []struct {
		kind fserr.Kind
		want fserr.ExitCode
	}{
		{fserr.KindUsage, fserr.ExitUsage},
		{fserr.KindCanceled, fserr.ExitCanceled},
		{fserr.KindIO, fserr.ExitError},
		{fserr.KindResourceExhaustion, fserr.ExitError},
	}
	for _, c := range cases {
		err := fserr.New(c.kind, "boom")
		if got := fserr.ExitCodeFor(err); got != c.want {
			t.Errorf("kind %v: got %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestExitCodeForUnwraps(t *testing.T) {
	base := fserr.New(fserr.KindUsage, "bad flag")
	wrapped := fmt.Errorf("while parsing: %w", base)
	if got := fserr.ExitCodeFor(wrapped); got != fserr.ExitUsage {
		t.Errorf("got %v, want ExitUsage", got)
	}
}

func TestExitCodeForPlainErrorDefaultsToError(t *testing.T) {
	if got := fserr.ExitCodeFor(errors.New("plain")); got != fserr.ExitError {
		t.Errorf("got %v, want ExitError", got)
	}
}

func TestWrapNil(t *testing.T) {
	if fserr.Wrap(fserr.KindIO, nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestExitCodeForCounts(t *testing.T) {
	cases := []struct {
		found, corrected int
		want              fserr.ExitCode
	}{
		{0, 0, fserr.ExitOK},
		{3, 3, fserr.ExitNondestruct},
		{3, 1, fserr.ExitUncorrected},
	}
	for _, c := range cases {
		if got := fserr.ExitCodeForCounts(c.found, c.corrected); got != c.want {
			t.Errorf("found=%d corrected=%d: got %v, want %v", c.found, c.corrected, got, c.want)
		}
	}
}

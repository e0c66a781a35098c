// Command analyze submits an analysis job to a jobpoll server and polls it
// until it finishes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/kzinmr/jobpoll/internal/client"
	"github.com/kzinmr/jobpoll/internal/poll"
	"github.com/kzinmr/jobpoll/pkg/models"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitTimeout = 2
	exitUsage   = 64
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

type options struct {
	addr        string
	dataSize    int
	timeout     time.Duration
	httpTimeout time.Duration
	jobID       string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.addr, "addr", "http://localhost:8080", "jobpoll server base URL")
	fs.IntVar(&o.dataSize, "size", 1000, "number of items to analyze")
	fs.DurationVar(&o.timeout, "timeout", 2*time.Minute, "give up polling after this long (0 waits forever)")
	fs.DurationVar(&o.httpTimeout, "http-timeout", 10*time.Second, "per-request HTTP timeout")
	fs.StringVar(&o.jobID, "job", "", "poll an existing job id instead of submitting")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.dataSize < 0 {
		return o, fmt.Errorf("-size must be >= 0, got %d", o.dataSize)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	o, err := parseFlags(args, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitUsage
	}

	c := client.NewHTTPClient(o.addr, o.httpTimeout)
	start := time.Now()

	jobID := o.jobID
	if jobID == "" {
		jobID, err = c.SubmitAnalyze(ctx, models.AnalyzeParams{DataSize: o.dataSize})
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "submitted job %s\n", jobID)
	}

	p := poll.New(c, poll.WithOnUpdate(progressPrinter(stdout)))
	st, err := p.Wait(ctx, jobID, start, o.timeout)
	return report(stdout, jobID, st, err)
}

// progressPrinter prints a line each time the observed progress changes.
func progressPrinter(w io.Writer) func(models.JobState) {
	var last models.StatusView
	return func(s models.JobState) {
		v := s.View()
		if v.State == last.State && v.Current == last.Current && v.Status == last.Status {
			return
		}
		last = v
		if v.State == models.PhaseRunning || v.State == models.PhasePending {
			fmt.Fprintf(w, "[%d/%d] %s %s\n", v.Current, v.Total, v.State, v.Status)
		}
	}
}

func report(w io.Writer, jobID string, st models.JobState, err error) int {
	var te *poll.TimeoutError
	switch {
	case errors.As(err, &te):
		fmt.Fprintf(w, "timed out after %s waiting for job %s (last state %s); it may still finish, poll again with -job %s\n",
			te.Elapsed.Round(time.Millisecond), jobID, te.Last.Phase, jobID)
		return exitTimeout
	case err != nil:
		fmt.Fprintf(w, "polling job %s failed: %v\n", jobID, err)
		return exitFailed
	case st.Phase == models.PhaseFailed:
		fmt.Fprintf(w, "job %s failed: %s\n", jobID, st.FailureDetail)
		return exitFailed
	}

	out, merr := json.MarshalIndent(st.View().Result, "", "  ")
	if merr != nil {
		fmt.Fprintf(w, "job %s succeeded but the result could not be printed: %v\n", jobID, merr)
		return exitFailed
	}
	fmt.Fprintf(w, "job %s succeeded:\n%s\n", jobID, out)
	return exitOK
}

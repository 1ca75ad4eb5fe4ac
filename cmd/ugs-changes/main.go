package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/changes"
	"github.com/petr-muller/ugs/internal/flagutil"
	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
	"github.com/petr-muller/ugs/internal/perforce"
	"github.com/petr-muller/ugs/internal/settings"
)

type options struct {
	issueID  int
	stream   string
	ranges   int
	describe bool
	timeout  time.Duration

	server flagutil.ServerOptions
}

func gatherOptions() options {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.IntVar(&o.issueID, "issue", 0, "The issue whose builds delimit the change ranges")
	fs.StringVar(&o.stream, "stream", "", "The stream to list changes for, e.g. //UE5/Main")
	fs.IntVar(&o.ranges, "ranges", 3, "How many ranges to fetch, newest first")
	fs.BoolVar(&o.describe, "describe", true, "Also describe every change to tell code from content")
	fs.DurationVar(&o.timeout, "timeout", 2*time.Minute, "Give up waiting for Perforce after this long")

	o.server.AddFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatalf("cannot parse args: '%s'", os.Args[1:])
	}

	return o
}

func (o *options) validate() error {
	if o.issueID <= 0 {
		return fmt.Errorf("--issue must be specified and positive")
	}
	if !strings.HasPrefix(o.stream, "//") {
		return fmt.Errorf("--stream must be a depot path starting with //, got '%s'", o.stream)
	}
	if o.ranges <= 0 {
		return fmt.Errorf("--ranges must be positive")
	}
	if o.timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	return o.server.Validate()
}

func main() {
	o := gatherOptions()
	if err := o.validate(); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}

	s, err := settings.Load(o.server.SettingsPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load settings")
	}
	server, err := o.server.Resolve(s, os.Getenv("USER"))
	if err != nil {
		logrus.WithError(err).Fatal("cannot determine issue service")
	}

	client, err := api.NewClient(server.APIURL)
	if err != nil {
		logrus.WithError(err).Fatal("cannot create issue service client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	logrus.Infof("Obtaining builds of issue %d", o.issueID)
	builds, err := client.GetIssueBuilds(ctx, o.issueID)
	if err != nil {
		logrus.WithError(err).Fatal("cannot get issue builds")
	}

	ranges := changes.RangesFromBuilds(o.stream, builds)
	if len(ranges) == 0 {
		logrus.Infof("Issue %d has no builds in %s", o.issueID, o.stream)
		return
	}
	if len(ranges) > o.ranges {
		ranges = ranges[:o.ranges]
	}

	// callbacks run on this goroutine, inside queue.Run
	queue := dispatch.NewQueue()
	pending := len(ranges)
	wanted := sets.New[int]()
	described := make(map[int]changes.ChangeDetails)
	failed := sets.New[int]()
	finish := func() {
		if pending == 0 && (!o.describe || len(described)+failed.Len() >= wanted.Len()) {
			cancel()
		}
	}

	worker, err := changes.NewWorker(changes.Options{
		Client: perforce.NewCommandClient(perforce.ConnectionSettings{
			ServerAndPort: s.Perforce.ServerAndPort,
			UserName:      s.Perforce.UserName,
			ClientName:    s.Perforce.ClientName,
		}),
		Filter: o.stream + "/...",
		OnRangeUpdated: func(r *changes.Range) {
			pending--
			if submitted, ok := r.Changes(); ok {
				for _, change := range submitted {
					wanted.Insert(change.Number)
				}
			}
			finish()
		},
		OnChangeMetadataUpdated: func(details changes.ChangeDetails) {
			described[details.Number] = details
			finish()
		},
		OnChangeMetadataFailed: func(change int, err error) {
			logrus.WithError(err).Warnf("Cannot describe change %d", change)
			failed.Insert(change)
			finish()
		},
		Post: queue.Post,
	})
	if err != nil {
		logrus.WithError(err).Fatal("cannot start change worker")
	}
	defer worker.Dispose()

	for _, r := range ranges {
		if r.Expand() {
			worker.AddRequest(r)
		}
	}

	queue.Run(ctx)
	if ctx.Err() == context.DeadlineExceeded {
		logrus.Warnf("Timed out after %s, showing partial results", o.timeout)
	}

	for _, r := range ranges {
		fmt.Print(describeRange(r, worker))
	}
}

func describeRange(r *changes.Range, worker *changes.Worker) string {
	var b strings.Builder

	upper := "now"
	if r.MaxChange != perforce.Now {
		upper = fmt.Sprintf("%d", r.MaxChange)
	}
	if r.BuildGroup != nil {
		fmt.Fprintf(&b, "CL %d %s (%s)\n", r.BuildGroup.Change, r.BuildGroup.JobName, r.BuildGroup.Outcome)
	}
	fmt.Fprintf(&b, "  changes %d..%s\n", r.MinChange, upper)

	submitted, ok := r.Changes()
	switch {
	case r.ErrorMessage() != "":
		fmt.Fprintf(&b, "    failed: %s\n", r.ErrorMessage())
		return b.String()
	case !ok:
		b.WriteString("    (not fetched)\n")
		return b.String()
	case len(submitted) == 0:
		b.WriteString("    (no changes)\n")
		return b.String()
	}

	for _, change := range submitted {
		kind := ""
		if details, ok := worker.TryGetChangeDetails(change.Number); ok {
			kind = changeKind(details)
		}
		summary := strings.SplitN(strings.TrimSpace(change.Description), "\n", 2)[0]
		fmt.Fprintf(&b, "    %d %-14s %-12s %s\n", change.Number, change.User, kind, summary)
	}
	return b.String()
}

func changeKind(details changes.ChangeDetails) string {
	switch {
	case details.ContainsCode && details.ContainsContent:
		return "code+content"
	case details.ContainsCode:
		return "code"
	case details.ContainsContent:
		return "content"
	default:
		return "empty"
	}
}

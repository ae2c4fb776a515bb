package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/scheduler"
	"github.com/msageha/taskforge/internal/yamlio"
)

// Report summarizes one run for the console and the reports directory.
type Report struct {
	StartedAt  time.Time     `yaml:"-"`
	FinishedAt time.Time     `yaml:"-"`
	Started    string        `yaml:"started_at"`
	Finished   string        `yaml:"finished_at"`
	Stages     []StageReport `yaml:"stages"`
	Completed  int           `yaml:"completed"`
	Failed     int           `yaml:"failed"`
	Skipped    int           `yaml:"skipped"`
}

// StageReport is one stage batch in the report. Planned is set on dry runs
// instead of the outcome counters.
type StageReport struct {
	Stage     string        `yaml:"stage"`
	Planned   []string      `yaml:"planned,omitempty"`
	Completed int           `yaml:"completed"`
	Failed    int           `yaml:"failed"`
	Skipped   int           `yaml:"skipped"`
	Failures  []ItemFailure `yaml:"failures,omitempty"`
}

type ItemFailure struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind,omitempty"`
	Message string `yaml:"message"`
}

func newReport(start time.Time) *Report {
	return &Report{StartedAt: start, Started: start.Format(time.RFC3339)}
}

func (r *Report) addSummary(s scheduler.Summary) {
	sr := StageReport{
		Stage:     s.Stage,
		Completed: s.Completed,
		Failed:    s.Failed,
		Skipped:   s.Skipped,
	}
	for _, o := range s.Outcomes {
		if o.Message != "" {
			sr.Failures = append(sr.Failures, ItemFailure{ID: o.ID, Kind: string(o.Kind), Message: o.Message})
		}
	}
	sort.Slice(sr.Failures, func(i, j int) bool { return sr.Failures[i].ID < sr.Failures[j].ID })
	r.Stages = append(r.Stages, sr)
	r.Completed += s.Completed
	r.Failed += s.Failed
	r.Skipped += s.Skipped
}

func (r *Report) addPlanned(stage string, items []*model.WorkItem) {
	sr := StageReport{Stage: stage, Planned: make([]string, 0, len(items))}
	for _, item := range items {
		sr.Planned = append(sr.Planned, item.ID)
	}
	r.Stages = append(r.Stages, sr)
}

func (r *Report) finish(end time.Time) {
	r.FinishedAt = end
	r.Finished = end.Format(time.RFC3339)
}

// HasFailures drives the process exit status.
func (r *Report) HasFailures() bool {
	return r.Failed > 0
}

func (r *Report) write(path string) error {
	return yamlio.AtomicWrite(path, r)
}

// String renders the console summary.
func (r *Report) String() string {
	var sb strings.Builder
	for _, s := range r.Stages {
		if s.Planned != nil {
			fmt.Fprintf(&sb, "%-16s would run %d item(s): %s\n", s.Stage, len(s.Planned), strings.Join(s.Planned, ", "))
			continue
		}
		fmt.Fprintf(&sb, "%-16s completed=%d failed=%d skipped=%d\n", s.Stage, s.Completed, s.Failed, s.Skipped)
		for _, f := range s.Failures {
			fmt.Fprintf(&sb, "  %s [%s] %s\n", f.ID, f.Kind, f.Message)
		}
	}
	fmt.Fprintf(&sb, "total: completed=%d failed=%d skipped=%d elapsed=%s\n",
		r.Completed, r.Failed, r.Skipped, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return sb.String()
}

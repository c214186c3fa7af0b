package datarecording

import (
	"os"
	"strings"

	"github.com/benbjohnson/clock"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// RunInfo is one property of a recorded program run.
type RunInfo struct {
	Property string
	Value    string
}

// RunRecorder records how the program was run: when it started and
// ended, the command line, and any property the caller adds.
type RunRecorder struct {
	tableName string
	recorder  DataRecorder
	clock     clock.Clock
	entries   []RunInfo
}

// NewRunRecorder creates the run_info table in recorder.
func NewRunRecorder(recorder DataRecorder, clk clock.Clock) (*RunRecorder, error) {
	if clk == nil {
		clk = clock.New()
	}

	e := &RunRecorder{
		tableName: "run_info",
		recorder:  recorder,
		clock:     clk,
	}

	if err := recorder.CreateTable(e.tableName, RunInfo{}); err != nil {
		return nil, err
	}

	return e, nil
}

// Start notes the start time, the command and the working directory.
func (e *RunRecorder) Start() {
	e.Set("Start Time", e.clock.Now().Format(timeLayout))
	e.Set("Command", strings.Join(os.Args, " "))

	if wd, err := os.Getwd(); err == nil {
		e.Set("Working Directory", wd)
	}
}

// Set notes a property of the run.
func (e *RunRecorder) Set(property, value string) {
	e.entries = append(e.entries, RunInfo{Property: property, Value: value})
}

// End writes every noted property along with the end time.
func (e *RunRecorder) End() error {
	e.Set("End Time", e.clock.Now().Format(timeLayout))

	for _, entry := range e.entries {
		if err := e.recorder.InsertData(e.tableName, entry); err != nil {
			return err
		}
	}

	e.entries = nil

	return e.recorder.Flush()
}

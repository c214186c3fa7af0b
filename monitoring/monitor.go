// Package monitoring turns running simulations into an HTTP server that
// reports their progress and lets a user pause and inspect them.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/desim/idgen"
	"github.com/sarchlab/desim/monitoring/web"
)

// Monitor can turn simulations into a server and allows external monitoring
// and controlling of the simulations.
type Monitor struct {
	portNumber int
	logger     logrus.FieldLogger
	clock      clock.Clock
	barIDs     idgen.Generator
	gatherer   prometheus.Gatherer

	simulationsLock sync.Mutex
	simulations     map[string]Monitorable

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		logger:      logrus.StandardLogger(),
		clock:       clock.New(),
		barIDs:      idgen.NewSequential("bar-"),
		simulations: make(map[string]Monitorable),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// refused and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		m.logger.WithField("port", portNumber).
			Warn("port not allowed for the monitoring server, using a random port instead")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(l logrus.FieldLogger) *Monitor {
	m.logger = l
	return m
}

// WithClock sets the clock progress bars are started with.
func (m *Monitor) WithClock(c clock.Clock) *Monitor {
	m.clock = c
	return m
}

// WithMetrics exposes the metrics of g under /metrics.
func (m *Monitor) WithMetrics(g prometheus.Gatherer) *Monitor {
	m.gatherer = g
	return m
}

// RegisterSimulation registers a simulation under a name.
func (m *Monitor) RegisterSimulation(name string, s Monitorable) {
	m.simulationsLock.Lock()
	defer m.simulationsLock.Unlock()

	m.simulations[name] = s
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.barIDs.Generate(),
		Name:      name,
		StartTime: m.clock.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the HTTP handler serving the monitor API and dashboard.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/simulations", m.listSimulations).Methods(http.MethodGet)
	r.HandleFunc("/api/now/{name}", m.now).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/{name}", m.queue).Methods(http.MethodGet)
	r.HandleFunc("/api/pause/{name}", m.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/continue/{name}", m.continueSimulation).Methods(http.MethodPost)
	r.HandleFunc("/api/state/{name}", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	if m.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.logger.WithField("url", url).Info("monitoring simulation")

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.WithError(err).Error("monitoring server stopped")
		}
	}()

	return url, nil
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

// OpenBrowser opens url in the default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}

func (m *Monitor) findSimulationOr404(
	w http.ResponseWriter,
	r *http.Request,
) Monitorable {
	name := mux.Vars(r)["name"]

	m.simulationsLock.Lock()
	s, ok := m.simulations[name]
	m.simulationsLock.Unlock()

	if !ok {
		http.Error(w, "Simulation not found", http.StatusNotFound)
		return nil
	}

	return s
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.WithError(err).Warn("failed to write monitoring response")
	}
}

func (m *Monitor) fail(w http.ResponseWriter, status int, err error) {
	m.logger.WithError(err).Warn("monitoring request failed")
	http.Error(w, err.Error(), status)
}

func (m *Monitor) listSimulations(w http.ResponseWriter, _ *http.Request) {
	m.simulationsLock.Lock()
	names := make([]string, 0, len(m.simulations))
	for name := range m.simulations {
		names = append(names, name)
	}
	m.simulationsLock.Unlock()

	sort.Strings(names)

	m.writeJSON(w, names)
}

func (m *Monitor) now(w http.ResponseWriter, r *http.Request) {
	s := m.findSimulationOr404(w, r)
	if s == nil {
		return
	}

	m.writeJSON(w, map[string]string{"now": s.CurrentTime()})
}

type queueRsp struct {
	Now     string `json:"now"`
	Pending int    `json:"pending"`
	Paused  bool   `json:"paused"`
}

func (m *Monitor) queue(w http.ResponseWriter, r *http.Request) {
	s := m.findSimulationOr404(w, r)
	if s == nil {
		return
	}

	m.writeJSON(w, queueRsp{
		Now:     s.CurrentTime(),
		Pending: s.Pending(),
		Paused:  s.Paused(),
	})
}

func (m *Monitor) pause(w http.ResponseWriter, r *http.Request) {
	s := m.findSimulationOr404(w, r)
	if s == nil {
		return
	}

	s.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) continueSimulation(w http.ResponseWriter, r *http.Request) {
	s := m.findSimulationOr404(w, r)
	if s == nil {
		return
	}

	s.Continue()
	w.WriteHeader(http.StatusNoContent)
}

// state serializes the simulation state. The field query parameter, such as
// field=queue.0, selects a nested value.
func (m *Monitor) state(w http.ResponseWriter, r *http.Request) {
	s := m.findSimulationOr404(w, r)
	if s == nil {
		return
	}

	buf := bytes.NewBuffer(nil)

	var err error
	s.Inspect(func(state any) {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(state)
		serializer.SetMaxDepth(1)

		if field := r.URL.Query().Get("field"); field != "" {
			err = serializer.SetEntryPoint(strings.Split(field, "."))
			if err != nil {
				return
			}
		}

		err = serializer.Serialize(buf)
	})

	if err != nil {
		m.fail(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

// collectProfile samples the CPU for the duration given in the query, one
// second by default.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if d := r.URL.Query().Get("duration"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed <= 0 || parsed > time.Minute {
			m.fail(w, http.StatusBadRequest,
				fmt.Errorf("invalid profile duration %q", d))
			return
		}

		duration = parsed
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.fail(w, http.StatusConflict, err)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, prof)
}

package monitoring_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/desim/monitoring"
	"github.com/sarchlab/desim/timing"
)

type shopState struct {
	Customers int
	Served    int
}

type (
	shopSim    = timing.Simulation[*shopState, timing.VTimeInCycle]
	shopHandle = timing.Handle[*shopState, timing.VTimeInCycle]
)

type customerEvent struct{}

func (customerEvent) Execute(s *shopState, h *shopHandle) error {
	s.Customers++

	if s.Customers < 100 {
		return h.ScheduleAfter(2, customerEvent{})
	}

	return nil
}

func newShopSim() *shopSim {
	sim, err := timing.NewSimulation(
		timing.VTimeInCycle(0),
		&shopState{},
		timing.Seed[*shopState, timing.VTimeInCycle]{Time: 5, Event: customerEvent{}},
	)
	Expect(err).NotTo(HaveOccurred())

	return sim
}

func do(h http.Handler, method, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode(rec *httptest.ResponseRecorder, v any) {
	Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
	Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
}

var _ = Describe("Monitor", func() {
	var (
		m       *monitoring.Monitor
		sim     *shopSim
		handler http.Handler
	)

	BeforeEach(func() {
		sim = newShopSim()
		m = monitoring.NewMonitor()
		m.RegisterSimulation("shop", monitoring.Watch(sim))
		handler = m.Handler()
	})

	It("should list simulations", func() {
		m.RegisterSimulation("another", monitoring.Watch(newShopSim()))

		var names []string
		decode(do(handler, http.MethodGet, "/api/simulations"), &names)

		Expect(names).To(Equal([]string{"another", "shop"}))
	})

	It("should report the clock and the queue", func() {
		_, err := sim.RunUntil(10)
		Expect(err).NotTo(HaveOccurred())

		var now map[string]string
		decode(do(handler, http.MethodGet, "/api/now/shop"), &now)
		Expect(now["now"]).To(Equal("9"))

		var queue map[string]any
		decode(do(handler, http.MethodGet, "/api/queue/shop"), &queue)
		Expect(queue["pending"]).To(BeEquivalentTo(1))
		Expect(queue["paused"]).To(BeFalse())
	})

	It("should answer 404 for unknown simulations", func() {
		rec := do(handler, http.MethodGet, "/api/now/nothing")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should pause and continue a simulation", func() {
		rec := do(handler, http.MethodPost, "/api/pause/shop")
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(sim.Paused()).To(BeTrue())

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)

			_, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

		rec = do(handler, http.MethodPost, "/api/continue/shop")
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Eventually(done).Should(BeClosed())
		Expect(sim.State().Customers).To(Equal(100))
	})

	It("should serialize the state", func() {
		_, err := sim.Run()
		Expect(err).NotTo(HaveOccurred())

		rec := do(handler, http.MethodGet, "/api/state/shop")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Customers"))
	})

	It("should report progress bars", func() {
		mock := clock.NewMock()
		m.WithClock(mock)

		bar := m.CreateProgressBar("replications", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)
		bar.IncrementFinished(1)
		done := m.CreateProgressBar("done", 1)
		m.CompleteProgressBar(done)

		var bars []map[string]any
		decode(do(handler, http.MethodGet, "/api/progress"), &bars)

		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["id"]).To(Equal("bar-1"))
		Expect(bars[0]["name"]).To(Equal("replications"))
		Expect(bars[0]["total"]).To(BeEquivalentTo(10))
		Expect(bars[0]["finished"]).To(BeEquivalentTo(3))
		Expect(bars[0]["in_progress"]).To(BeEquivalentTo(1))
	})

	It("should report resources", func() {
		var rsp map[string]any
		decode(do(handler, http.MethodGet, "/api/resource"), &rsp)

		Expect(rsp).To(HaveKey("cpu_percent"))
		Expect(rsp["memory_size"]).To(BeNumerically(">", 0))
	})

	It("should collect a CPU profile", func() {
		var rsp map[string]any
		decode(do(handler, http.MethodGet, "/api/profile?duration=20ms"), &rsp)

		Expect(rsp).To(HaveKey("SampleType"))
	})

	It("should refuse bad profile durations", func() {
		rec := do(handler, http.MethodGet, "/api/profile?duration=forever")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should expose metrics when given a gatherer", func() {
		reg := prometheus.NewRegistry()
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "desim_test_total",
			Help: "Test counter.",
		})
		reg.MustRegister(counter)
		counter.Add(3)

		rec := do(m.WithMetrics(reg).Handler(), http.MethodGet, "/metrics")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("desim_test_total 3"))
	})

	It("should not expose metrics by default", func() {
		rec := do(handler, http.MethodGet, "/metrics")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should serve the dashboard", func() {
		rec := do(handler, http.MethodGet, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should serve over HTTP", func() {
		url, err := m.WithPortNumber(80).StartServer()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(m.StopServer)

		rsp, err := http.Get(url + "/api/simulations")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("shop"))
	})
})

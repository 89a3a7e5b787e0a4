package metrics

import (
	"net"
	"net/http"

	"github.com/fasthttp/router"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"github.com/nxsre/nvml-collector/pkg/collector"
)

// NewRegistry registers sink next to the Go runtime and process collectors
func NewRegistry(sink *Sink) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(sink)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

type health struct {
	Poller       string   `json:"poller"`
	TagRefreshes int64    `json:"tagRefreshes"`
	TaggedGPUs   int      `json:"taggedGpus"`
	FailedProbes []string `json:"failedProbes"`
}

// Server serves /metrics, /healthz and /debug/tags
type Server struct {
	gatherer  prometheus.Gatherer
	collector *collector.Collector
	server    *fasthttp.Server
}

func NewServer(gatherer prometheus.Gatherer, c *collector.Collector) *Server {
	s := &Server{gatherer: gatherer, collector: c}
	r := router.New()
	r.GET("/metrics", s.metrics)
	r.GET("/healthz", s.healthz)
	r.GET("/debug/tags", s.debugTags)
	s.server = &fasthttp.Server{Handler: r.Handler, Name: "nvml-collector"}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	return s.server.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

func (s *Server) Shutdown() error {
	return s.server.Shutdown()
}

func (s *Server) metrics(ctx *fasthttp.RequestCtx) {
	mfs, err := s.gatherer.Gather()
	if err != nil && len(mfs) == 0 {
		ctx.Error("gathering metrics failed: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	header := http.Header{}
	header.Set("Accept", string(ctx.Request.Header.Peek("Accept")))
	format := expfmt.Negotiate(header)
	ctx.SetContentType(string(format))
	enc := expfmt.NewEncoder(ctx, format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			ctx.Error("encoding metrics failed: "+err.Error(), fasthttp.StatusInternalServerError)
			return
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		closer.Close()
	}
}

func (s *Server) healthz(ctx *fasthttp.RequestCtx) {
	h := health{
		Poller:       s.collector.Poller().State().String(),
		TagRefreshes: s.collector.Poller().Refreshes(),
		TaggedGPUs:   s.collector.Cache().Len(),
		FailedProbes: s.collector.Guard().Failed(),
	}
	s.writeJSON(ctx, h)
}

func (s *Server) debugTags(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, s.collector.Cache().Snapshot())
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	body, err := jsoniter.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

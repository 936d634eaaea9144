package main

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/log"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sarabveer/cable-modem-stats/internal/config"
	"github.com/sarabveer/cable-modem-stats/internal/metrics"
	"github.com/sarabveer/cable-modem-stats/internal/modem"
	"github.com/sarabveer/cable-modem-stats/internal/poller"
	"github.com/sarabveer/cable-modem-stats/internal/sink"
)

const (
	programName = "cable_modem_stats"

	defaultPrometheusListenAddress = ":9624"
)

func main() {
	var (
		configPath    = kingpin.Flag("config", "Path to config file.").OverrideDefaultFromEnvar("CABLE_MODEM_STATS_CONFIG").String()
		debug         = kingpin.Flag("debug", "Enable debug logging.").Bool()
		listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for web interface and telemetry. Defaults to "+defaultPrometheusListenAddress+" when destination is prometheus, disabled otherwise.").OverrideDefaultFromEnvar("CABLE_MODEM_STATS_LISTEN_ADDRESS").String()
		metricsPath   = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
	)

	log.AddFlags(kingpin.CommandLine)
	kingpin.Version(version.Print(programName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *debug {
		setDebug()
	}

	log.Infoln("Starting", programName, version.Info())
	log.Infoln("Build context", version.BuildContext())

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		// configuration errors are not retried, exit without the pre-exit sleep
		log.Errorln(err)
		os.Exit(1)
	}
	if cfg.EnableDebug {
		setDebug()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	prometheus.MustRegister(version.NewCollector(programName))

	settings := cfg.ModemSettings()
	adapter, err := modem.New(cfg.Model(), settings, modem.NewHTTPClient(settings, m))
	if err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
	log.Infof("Polling %s modem at %s every %s", adapter.Model(), cfg.ModemIP, cfg.SleepIntervalDuration())

	s, closeSink := newSink(cfg, prometheus.DefaultRegisterer)
	if cfg.Destination == config.DestinationPrometheus && *listenAddress == "" {
		*listenAddress = defaultPrometheusListenAddress
	}

	if *listenAddress != "" {
		go serveMetrics(*listenAddress, *metricsPath)
	}

	p := poller.New(adapter, s, poller.Options{
		SleepInterval:             cfg.SleepIntervalDuration(),
		ExitOnAuthError:           cfg.ExitOnAuthError,
		ExitOnHTMLError:           cfg.ExitOnHTMLError,
		ClearAuthTokenOnHTMLError: cfg.ClearAuthTokenOnHTMLError,
		SleepBeforeExit:           cfg.SleepBeforeExit,
	}, poller.WithMetrics(m))

	code := p.Run(context.Background())
	// os.Exit skips deferred calls
	closeSink()
	log.Errorf("Exiting with status %d", code)
	os.Exit(code)
}

// newSink builds the configured destination. The returned func releases its
// resources and must be called before exiting.
func newSink(cfg config.Config, reg prometheus.Registerer) (sink.Sink, func()) {
	if cfg.Destination == config.DestinationPrometheus {
		s := sink.NewPrometheus()
		reg.MustRegister(s)
		return s, func() {}
	}
	s := sink.NewInflux(cfg.InfluxConfig())
	return s, s.Close
}

func setDebug() {
	if err := log.Base().SetLevel("debug"); err != nil {
		log.Errorln(err)
	}
}

func serveMetrics(listenAddress, metricsPath string) {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
             <head><title>Cable Modem Stats</title></head>
             <body>
             <h1>Cable Modem Stats</h1>
             <p><a href='` + metricsPath + `'>Metrics</a></p>
             </body>
             </html>`))
	})

	server := &http.Server{
		Addr:     listenAddress,
		Handler:  mux,
		ErrorLog: log.NewErrorLogger(),
	}
	log.Infoln("Listening on", listenAddress)
	log.Fatal(server.ListenAndServe())
}

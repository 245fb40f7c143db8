package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/store-sync/network"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

const (
	FLAG_NAME_TCP    = "tcp"
	FLAG_NAME_TLS    = "tls"
	FLAG_NAME_WS     = "ws"
	FLAG_NAME_HEALTH = "health"
)

// AddListenerFlags registers one bind address/port flag pair per listener.
func AddListenerFlags(cmd *cobra.Command, v *viper.Viper) {
	network.RegisterFlagsForService(cmd, v, FLAG_NAME_TCP, 4001)
	network.RegisterFlagsForService(cmd, v, FLAG_NAME_TLS, 0)
	network.RegisterFlagsForService(cmd, v, FLAG_NAME_WS, 4002)
	network.RegisterFlagsForService(cmd, v, FLAG_NAME_HEALTH, 9000)

	cmd.Flags().StringP("tls-cert-file", "", "", "TLS certificate used by the tls listener")
	v.BindPFlag("tls-cert-file", cmd.Flags().Lookup("tls-cert-file"))
	cmd.Flags().StringP("tls-key-file", "", "", "TLS private key used by the tls listener")
	v.BindPFlag("tls-key-file", cmd.Flags().Lookup("tls-key-file"))
	cmd.Flags().StringP("ws-path", "", "/sync", "HTTP path the websocket listener upgrades")
	v.BindPFlag("ws-path", cmd.Flags().Lookup("ws-path"))
}

// Listen starts every enabled transport listener.
func Listen(v *viper.Viper, logger *zap.Logger) ([]transport.Transport, error) {
	out := []transport.Transport{}
	for _, name := range []string{FLAG_NAME_TCP, FLAG_NAME_TLS, FLAG_NAME_WS} {
		config, err := network.ConfigurationFromFlags(v, name)
		if err != nil {
			return out, err
		}
		if !config.Enabled() {
			continue
		}
		var t transport.Transport
		switch name {
		case FLAG_NAME_TCP:
			t, err = transport.NewTCPTransport(config.Address(), logger)
		case FLAG_NAME_TLS:
			cert, key := v.GetString("tls-cert-file"), v.GetString("tls-key-file")
			if cert == "" || key == "" {
				err = errors.New("tls listener requires --tls-cert-file and --tls-key-file")
			} else {
				t, err = transport.NewTLSTransport(config.Address(), cert, key, logger)
			}
		case FLAG_NAME_WS:
			t, err = transport.NewWSTransport(config.Address(), v.GetString("ws-path"), logger)
		}
		if err != nil {
			return out, errors.Wrapf(err, "failed to start %s listener", name)
		}
		logger.Info("started listener", zap.String("transport", config.Name()), zap.String("bind_address", config.Address()))
		out = append(out, t)
	}
	return out, nil
}

type healthChecker interface {
	Health() string
}

// Backuper streams a consistent copy of the persistent state storage.
type Backuper interface {
	WriteTo(io.Writer) error
}

// ServeHTTPHealth exposes /health and /metrics, and /backup when backup is not
// nil. It returns nil when the health listener is disabled.
func ServeHTTPHealth(v *viper.Viper, logger *zap.Logger, service healthChecker, backup Backuper, collectors ...prometheus.Collector) (*http.Server, error) {
	config, err := network.ConfigurationFromFlags(v, FLAG_NAME_HEALTH)
	if err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(collectors...)
	server := &http.Server{
		Addr:    config.Address(),
		Handler: healthMux(registry, service, backup),
	}
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("failed to run healthcheck endpoint", zap.Error(err))
		}
	}()
	return server, nil
}

func healthMux(gatherer prometheus.Gatherer, service healthChecker, backup Backuper) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		switch service.Health() {
		case "warning":
			w.WriteHeader(http.StatusTooManyRequests)
		case "critical":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	if backup != nil {
		mux.HandleFunc("/backup", func(w http.ResponseWriter, _ *http.Request) {
			buf := &bytes.Buffer{}
			err := backup.WriteTo(buf)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			io.Copy(w, buf)
		})
	}
	return mux
}

// ShutdownServer stops server, waiting at most 5 seconds for in-flight
// requests.
func ShutdownServer(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

package metrics_test

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/dlopt/trialgrid/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     *metrics.Config
		wantErr bool
	}{
		"Default configuration": {},

		"Bad port": {
			cfg: &metrics.Config{
				Port: -1, // Invalid port
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tc.cfg = initConfig(t, tc.cfg)

			reg := prometheus.NewRegistry()
			server := metrics.New(*tc.cfg, reg)

			errCh := listenAndServeAsync(t, server)
			defer server.Close()

			select {
			case err := <-errCh:
				if tc.wantErr {
					require.Error(t, err, "Expected ListenAndServe to fail")
					return
				}
				require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
			case <-time.After(500 * time.Millisecond):
				require.False(t, tc.wantErr, "Expected ListenAndServe to fail but it kept running")
			}

			statusCode, body, err := sendRequest(t, server, "/metrics")
			require.NoError(t, err, "Expected to successfully send request to metrics endpoint")
			require.Equal(t, http.StatusOK, statusCode, "Expected metrics endpoint to return 200 OK")
			require.Contains(t, body, "promhttp_metric_handler_requests_total", "Expected handler instrumentation to be registered")

			statusCode, body, err = sendRequest(t, server, "/health")
			require.NoError(t, err, "Expected to successfully send request to health endpoint")
			require.Equal(t, http.StatusOK, statusCode, "Expected health endpoint to return 200 OK")
			require.Equal(t, "OK", body, "Expected health endpoint to report OK")

			err = server.Shutdown(t.Context())
			require.NoError(t, err, "Expected Shutdown to succeed")

			select {
			case err := <-errCh:
				require.ErrorIs(t, err, http.ErrServerClosed, "Expected ListenAndServe to return ErrServerClosed after shutdown")
			default:
				require.Fail(t, "Expected ListenAndServe to return an error after shutdown")
			}
		})
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	cfg := initConfig(t, nil)

	reg := prometheus.NewRegistry()
	server := metrics.New(*cfg, reg)

	errCh := listenAndServeAsync(t, server)
	defer server.Close()

	// Ensure the server is running
	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	err := server.Close()
	require.NoError(t, err, "Expected Close to succeed")

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed, "Expected ListenAndServe to return ErrServerClosed after close")
	default:
		require.Fail(t, "Expected ListenAndServe to return an error after close")
	}
}

func TestAddr(t *testing.T) {
	t.Parallel()

	cfg := initConfig(t, nil)

	reg := prometheus.NewRegistry()
	server := metrics.New(*cfg, reg)
	require.Empty(t, server.Addr(), "Expected Addr to be empty before ListenAndServe")

	errCh := listenAndServeAsync(t, server)
	defer server.Close()

	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NotEmpty(t, server.Addr(), "Expected Addr to be set after ListenAndServe")
}

func initConfig(t *testing.T, cfg *metrics.Config) *metrics.Config {
	t.Helper()

	if cfg == nil {
		cfg = &metrics.Config{}
	}

	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	return cfg
}

func listenAndServeAsync(t *testing.T, server *metrics.Server) chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		errCh <- server.ListenAndServe()
	}()
	return errCh
}

func sendRequest(t *testing.T, server *metrics.Server, path string) (int, string, error) {
	t.Helper()

	resp, err := http.Get("http://" + server.Addr() + path)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}

	return resp.StatusCode, string(body), nil
}

/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/signaling"
	"github.com/padcall/padcall/relay/server"
)

const defaultListenAddr = "127.0.0.1:8799"

var (
	detectDeadlocks = true
)

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start relay server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", "", fmt.Sprintf("TCP listen address (default \"%s\")", defaultListenAddr))
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("with-pprof", false, "With pprof enabled")
	serveCmd.Flags().String("pprof-listen", "127.0.0.1:6060", "TCP listen address for pprof")
	serveCmd.Flags().Bool("with-metrics", false, "Enable metrics")
	serveCmd.Flags().String("metrics-listen", "127.0.0.1:6799", "TCP listen address for metrics")
	serveCmd.Flags().Bool("enabled", true, "Whether calls are enabled for pads served by this relay")
	serveCmd.Flags().String("audio-disabled", "", "Disable audio for all pads (one of soft or hard)")
	serveCmd.Flags().String("video-disabled", "", "Disable video for all pads (one of soft or hard)")
	serveCmd.Flags().StringArray("ice-server", nil, "ICE server URL announced to clients (stun: or turn:), can be given multiple times")
	serveCmd.Flags().String("turn-username", "", "Username announced together with turn: ICE servers")
	serveCmd.Flags().String("turn-credential", "", "Credential announced together with turn: ICE servers")
	serveCmd.Flags().String("listen-class", "", "CSS class controlling where call UIs attach in the pad")
	serveCmd.Flags().String("jwt-secret", "", "Shared secret to validate client tokens, clients connect unauthenticated if empty")
	serveCmd.Flags().String("redis-url", "", "Redis URL for cross instance presence, presence is kept local if empty")
	serveCmd.Flags().BoolVar(&detectDeadlocks, "with-deadlock-detector", detectDeadlocks, "Enable deadlock detection")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.Infoln("serve start")

	deadlock.Opts.Disable = !detectDeadlocks
	deadlock.Opts.DeadlockTimeout = 15 * time.Second
	if !deadlock.Opts.Disable {
		logger.Warnln("enabled automatic deadlock detector")
	}

	config := &cfg.Config{
		Logger: logger,
	}

	listenAddr, _ := cmd.Flags().GetString("listen")
	if listenAddr == "" {
		listenAddr = os.Getenv("PADCALLD_LISTEN")
	}
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	config.ListenAddr = listenAddr

	settings, err := padSettingsFromFlags(cmd, logger)
	if err != nil {
		return err
	}
	config.Pad = settings

	jwtSecret, _ := cmd.Flags().GetString("jwt-secret")
	if jwtSecret == "" {
		jwtSecret = os.Getenv("PADCALLD_JWT_SECRET")
	}
	if jwtSecret != "" {
		config.JWTSecret = []byte(jwtSecret)
	} else {
		logger.Warnln("no jwt secret configured, clients connect unauthenticated")
	}

	config.RedisURL, _ = cmd.Flags().GetString("redis-url")
	if config.RedisURL == "" {
		config.RedisURL = os.Getenv("PADCALLD_REDIS_URL")
	}

	config.HTTPClient = newHTTPClient(false)

	// Metrics support.
	config.WithMetrics, _ = cmd.Flags().GetBool("with-metrics")
	metricsListenAddr, _ := cmd.Flags().GetString("metrics-listen")
	if config.WithMetrics && metricsListenAddr != "" {
		reg := prometheus.NewPedanticRegistry()
		config.Metrics = prometheus.WrapRegistererWithPrefix("padcalld_", reg)
		// Add the standard process and Go metrics to the custom registry.
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
		go func() {
			metricsListen := metricsListenAddr
			handler := http.NewServeMux()
			logger.WithField("listenAddr", metricsListen).Infoln("metrics enabled, starting listener")
			handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			err := http.ListenAndServe(metricsListen, handler)
			if err != nil {
				logger.WithError(err).Errorln("unable to start metrics listener")
			}
		}()
	}

	srv, err := server.NewServer(config)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	// Profiling support.
	withPprof, _ := cmd.Flags().GetBool("with-pprof")
	pprofListenAddr, _ := cmd.Flags().GetString("pprof-listen")
	if withPprof && pprofListenAddr != "" {
		runtime.SetMutexProfileFraction(5)
		go func() {
			pprofListen := pprofListenAddr
			logger.WithField("listenAddr", pprofListen).Infoln("pprof enabled, starting listener")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				logger.WithError(err).Errorln("unable to start pprof listener")
			}
		}()
	}

	logger.Infoln("serve started")
	return srv.Serve(ctx)
}

func padSettingsFromFlags(cmd *cobra.Command, logger logrus.FieldLogger) (*signaling.PadSettings, error) {
	settings := &signaling.PadSettings{}

	settings.Enabled, _ = cmd.Flags().GetBool("enabled")

	audioDisabled, _ := cmd.Flags().GetString("audio-disabled")
	settings.Audio.Disabled = signaling.Disabled(audioDisabled)
	videoDisabled, _ := cmd.Flags().GetString("video-disabled")
	settings.Video.Disabled = signaling.Disabled(videoDisabled)

	settings.ListenClass, _ = cmd.Flags().GetString("listen-class")

	iceServerStrings, _ := cmd.Flags().GetStringArray("ice-server")
	turnUsername, _ := cmd.Flags().GetString("turn-username")
	turnCredential, _ := cmd.Flags().GetString("turn-credential")
	for _, uriString := range iceServerStrings {
		record := signaling.ICEServer{
			URLs: []string{uriString},
		}
		if len(uriString) > 5 && uriString[:5] == "turn:" {
			record.Username = turnUsername
			record.Credential = turnCredential
		}
		settings.ICEServers = append(settings.ICEServers, record)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pad settings: %w", err)
	}
	if !settings.Enabled {
		logger.Warnln("calls are disabled, clients will be refused")
	}

	return settings, nil
}

func newHTTPClient(insecure bool) *http.Client {
	var tlsClientConfig *tls.Config
	if insecure {
		tlsClientConfig = &tls.Config{
			InsecureSkipVerify: insecure,
		}
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig:       tlsClientConfig,
		},
	}
}

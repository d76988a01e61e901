/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/padclient"
	"github.com/padcall/padcall/internal/rtc"
)

func commandJoin() *cobra.Command {
	joinCmd := &cobra.Command{
		Use:   "join [...args]",
		Short: "Join a pad's call as a headless receive-only participant",
		Run: func(cmd *cobra.Command, args []string) {
			if err := join(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	joinCmd.Flags().String("url", "http://127.0.0.1:8799", "Base URL of the relay to connect")
	joinCmd.Flags().String("pad", "", "Pad to join")
	joinCmd.Flags().String("participant", "", "Participant ID to join as")
	joinCmd.Flags().String("token", "", "Token to authenticate with, overrides the participant parameter")
	joinCmd.Flags().Bool("insecure", false, "Disable TLS certificate and hostname validation")
	joinCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	joinCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	joinCmd.Flags().StringArray("use-ice-if", nil, "Interface to use when gathering ICE candidates, all interfaces will be used if not set")
	joinCmd.Flags().StringArray("use-ice-network-type", nil, "ICE network type supported when gathering candidates, if not set all types (udp4, udp6, tcp4, tcp6) are enabled")
	joinCmd.Flags().String("use-ice-udp-port-range", "", "Range of ephemeral ports that ICE UDP connections can allocate from in format min:max, if not set its not limited")
	joinCmd.Flags().BoolVar(&detectDeadlocks, "with-deadlock-detector", detectDeadlocks, "Enable deadlock detection")

	return joinCmd
}

func join(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}

	deadlock.Opts.Disable = !detectDeadlocks
	deadlock.Opts.DeadlockTimeout = 15 * time.Second

	uriString, _ := cmd.Flags().GetString("url")
	uri, err := url.Parse(uriString)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	uri.Path = strings.TrimRight(uri.Path, "/")

	padID, _ := cmd.Flags().GetString("pad")
	participant, _ := cmd.Flags().GetString("participant")
	if padID == "" || participant == "" {
		return fmt.Errorf("pad and participant are required")
	}
	token, _ := cmd.Flags().GetString("token")

	config := &cfg.Config{
		Logger: logger,
	}
	if err = applyICEFlags(cmd, config, logger); err != nil {
		return err
	}

	insecure, _ := cmd.Flags().GetBool("insecure")

	manager, err := padclient.NewManager(ctx, uri, padID, participant, &padclient.Config{
		Config: config,

		Logger:     logger,
		HTTPClient: newHTTPClient(insecure),

		Token: token,

		OnStream: func(peerID string, stream *rtc.RemoteStream) {
			logger.WithFields(logrus.Fields{
				"peer":   peerID,
				"stream": stream.ID,
				"audio":  stream.Audio != nil,
				"video":  stream.Video != nil,
			}).Infoln("receiving remote media")
		},
		OnStreamGone: func(peerID string) {
			logger.WithField("peer", peerID).Infoln("remote media ended")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create relay client: %v", err)
	}

	logger.Infoln("joined, waiting for peers")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		reason := <-signalCh
		logger.WithField("signal", reason).Warnln("received signal")
		cancel()
	}()

	manager.Wait()
	return nil
}

func applyICEFlags(cmd *cobra.Command, config *cfg.Config, logger logrus.FieldLogger) error {
	if ICEInterfaceStrings, _ := cmd.Flags().GetStringArray("use-ice-if"); ICEInterfaceStrings != nil {
		config.ICEInterfaces = ICEInterfaceStrings
		logger.WithField("interfaces", config.ICEInterfaces).Infoln("limiting ICE interfaces")
	}
	if ICENetworkTypeStrings, _ := cmd.Flags().GetStringArray("use-ice-network-type"); ICENetworkTypeStrings != nil {
		config.ICENetworkTypes = ICENetworkTypeStrings
		logger.WithField("types", config.ICENetworkTypes).Infoln("limiting ICE network types")
	}
	if ICEEphemeralUDPPortRangeString, _ := cmd.Flags().GetString("use-ice-udp-port-range"); ICEEphemeralUDPPortRangeString != "" {
		ICEEphemeralUDPPortRangeMinMaxStrings := strings.SplitN(ICEEphemeralUDPPortRangeString, ":", 2)
		config.ICEEphemeralUDPPortRange = [2]uint16{10000, ^uint16(0)}
		if ICEEphemeralUDPPortRangeMinMaxStrings[0] != "" {
			if minPort, portErr := strconv.ParseUint(ICEEphemeralUDPPortRangeMinMaxStrings[0], 10, 16); portErr != nil {
				return fmt.Errorf("invalid min port value in use-ice-udp-port-range: %w", portErr)
			} else {
				config.ICEEphemeralUDPPortRange[0] = uint16(minPort)
			}
		}
		if len(ICEEphemeralUDPPortRangeMinMaxStrings) > 1 && ICEEphemeralUDPPortRangeMinMaxStrings[1] != "" {
			if maxPort, portErr := strconv.ParseUint(ICEEphemeralUDPPortRangeMinMaxStrings[1], 10, 16); portErr != nil {
				return fmt.Errorf("invalid max port value in use-ice-udp-port-range: %w", portErr)
			} else {
				if maxPort <= uint64(config.ICEEphemeralUDPPortRange[0]) {
					return fmt.Errorf("max port value in use-ice-udp-port-range must be higher than min port %d", config.ICEEphemeralUDPPortRange[0])
				}
				config.ICEEphemeralUDPPortRange[1] = uint16(maxPort)
			}
		}
		logger.WithFields(logrus.Fields{
			"min": config.ICEEphemeralUDPPortRange[0],
			"max": config.ICEEphemeralUDPPortRange[1],
		}).Infoln("limiting ICE port range")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/network"
	"github.com/VanDung-dev/zyre-go/telemetry"
	"github.com/VanDung-dev/zyre-go/zyre"
)

const (
	metricsAddress = ":9470"
	group          = "GLOBAL"
)

func main() {
	// Simple entry point: one node in GLOBAL that logs what it sees.
	log := logrus.WithField("component", "zyre-node")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(network.NewBackend(network.DefaultConfig()), log, quit); err != nil {
		log.Fatalf("Node failed: %v", err)
	}
}

// run serves one node until quit fires. The node and the metrics server are
// released on every return path.
func run(backend zyre.Backend, log *logrus.Entry, quit <-chan os.Signal) error {
	metrics := telemetry.NewMetrics("zyre", prometheus.DefaultRegisterer)
	server := telemetry.NewMetricsServer(metricsAddress, metrics)
	server.StartAsync()
	defer server.Stop()

	hostname, _ := os.Hostname()
	node, err := startNode(backend, hostname, zyre.WithLogger(log), zyre.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer node.Close()
	log.Printf("Node %s (%s) started, metrics on %s", node.Name(), node.UUID(), metricsAddress)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := node.NextEvent(context.Background())
			if err != nil {
				if !errors.Is(err, zyre.ErrNodeClosed) {
					log.WithError(err).Warn("Receive failed")
				}
				return
			}
			logEvent(log, ev)
			stopped := ev.Type() == zyre.EventStop
			ev.Close()
			if stopped {
				return
			}
		}
	}()

	<-quit

	log.Println("Shutting down node...")
	node.Stop()
	<-done
	log.Println("Node stopped.")
	return nil
}

// startNode creates, starts and joins a node. On failure the node is closed
// before the error is returned.
func startNode(backend zyre.Backend, name string, opts ...zyre.Option) (*zyre.Node, error) {
	node, err := zyre.NewNode(backend, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	if err := node.Start(); err != nil {
		_ = node.Close()
		return nil, err
	}
	if err := node.Join(group); err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("failed to join %s: %w", group, err)
	}
	return node, nil
}

func logEvent(log *logrus.Entry, ev *zyre.Event) {
	fields := logrus.Fields{"type": ev.Type().String()}
	if name, err := ev.Name(); err == nil {
		fields["peer"] = name
	}
	if g, err := ev.Group(); err == nil {
		fields["group"] = g
	}
	if msg, err := ev.TakeMessage(); err == nil {
		fields["message"] = msg.String()
	}
	log.WithFields(fields).Info("Event")
}

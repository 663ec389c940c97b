// Command viewer receives the broadcaster's stream and uploads a frame for
// scoring each time Enter is pressed.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/mossy-p/fabcam/internal/agent"
	"github.com/mossy-p/fabcam/internal/cli"
	"github.com/mossy-p/fabcam/internal/media"
	"github.com/mossy-p/fabcam/internal/models"
)

var labels = map[agent.ViewerState]string{
	agent.ViewerDisconnected: "Disconnected",
	agent.ViewerConnecting:   "Waiting for broadcaster...",
	agent.ViewerLive:         "Live",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cli.Setup(ctx, "viewer", models.RoleViewer, os.Args[1:])
	if err != nil {
		cli.Error("%v", err)
		os.Exit(1)
	}

	pterm.Info.Println("fabcam viewer, press Enter to capture a frame")
	if a.Config.Record != "" {
		pterm.Info.Println("recording to " + a.Config.Record)
	}
	pterm.Println()

	v := agent.NewViewer(a.Client, media.NewVP8Sink(a.Config.Record), a.NewPeer, a.Config.PollInterval)
	v.OnStateChange(func(s agent.ViewerState) {
		cli.Status(labels[s], s == agent.ViewerLive)
	})
	defer v.Disconnect()

	if err := v.Connect(); err != nil {
		cli.Error("failed to connect: %v", err)
		os.Exit(1)
	}

	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- struct{}{}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			v.Disconnect()
			cli.Info("viewer stopped")
			return
		case <-lines:
			capture(ctx, v)
		}
	}
}

func capture(ctx context.Context, v *agent.Viewer) {
	if v.State() == agent.ViewerDisconnected {
		if err := v.Connect(); err != nil {
			cli.Error("failed to reconnect: %v", err)
		}
		return
	}

	analysis, err := v.CaptureFrame(ctx)
	if err != nil {
		cli.Error("capture failed: %v", err)
		return
	}
	if analysis == nil {
		cli.Warn("nothing to capture yet")
		return
	}

	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"uniformity", "coverage", "defects", "overall fitness"},
		{
			fmt.Sprintf("%.2f", analysis.Uniformity),
			fmt.Sprintf("%.2f", analysis.Coverage),
			fmt.Sprintf("%.2f", analysis.Defects),
			fmt.Sprintf("%.2f", analysis.OverallFitness),
		},
	}).Render()
}

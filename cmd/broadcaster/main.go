// Command broadcaster streams a VP8 IVF file to a single viewer through the
// signaling server. After the connection drops it waits for Enter before
// publishing a new offer.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/mossy-p/fabcam/internal/agent"
	"github.com/mossy-p/fabcam/internal/cli"
	"github.com/mossy-p/fabcam/internal/media"
	"github.com/mossy-p/fabcam/internal/models"
)

var labels = map[agent.BroadcasterState]string{
	agent.BroadcasterIdle:      "Ready to broadcast, press Enter to start",
	agent.BroadcasterCapturing: "Accessing camera...",
	agent.BroadcasterOffering:  "Creating connection...",
	agent.BroadcasterWaiting:   "Waiting for viewer to connect...",
	agent.BroadcasterConnected: "Live, streaming to viewer",
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := cli.Setup(ctx, "broadcaster", models.RoleBroadcaster, os.Args[1:])
	if err != nil {
		cli.Error("%v", err)
		os.Exit(1)
	}

	pterm.Info.Println("fabcam broadcaster, camera " + a.Config.Camera)
	pterm.Println()

	b := agent.NewBroadcaster(a.Client, media.IVFCamera{Path: a.Config.Camera}, a.NewPeer, a.Config.PollInterval)
	b.OnStateChange(func(s agent.BroadcasterState) {
		cli.Status(labels[s], s == agent.BroadcasterConnected)
	})
	defer b.Stop()

	if err := b.Start(ctx); err != nil {
		cli.Error("failed to start broadcast: %v", err)
		os.Exit(1)
	}

	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- struct{}{}
		}
	}()

	run(ctx, b, lines)
	cli.Info("broadcast stopped")
}

// broadcast is the part of *agent.Broadcaster the command loop drives.
type broadcast interface {
	Start(ctx context.Context) error
	Stop()
	State() agent.BroadcasterState
}

// run restarts b only when a line arrives on lines and b is idle; a dropped
// connection leaves b idle until then.
func run(ctx context.Context, b broadcast, lines <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case <-lines:
			if b.State() != agent.BroadcasterIdle {
				cli.Info("already broadcasting")
				continue
			}
			if err := b.Start(ctx); err != nil {
				cli.Error("failed to start broadcast: %v", err)
			}
		}
	}
}

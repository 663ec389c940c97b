// Package cli holds the pieces shared by the broadcaster and viewer commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/mossy-p/fabcam/config"
	"github.com/mossy-p/fabcam/internal/agent"
	"github.com/mossy-p/fabcam/internal/logging"
	"github.com/mossy-p/fabcam/internal/models"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Agent is everything an agent command needs after startup.
type Agent struct {
	Config  *config.AgentConfig
	Client  *agent.Client
	NewPeer agent.PeerFactory
}

// Setup parses args, configures logging and connects to the signaling server,
// logging in with the agent key when no token is configured.
func Setup(ctx context.Context, name string, role models.Role, args []string) (*Agent, error) {
	fs := config.AgentFlags(name)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		return nil, err
	}

	cfg, err := config.LoadAgent(fs)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)
	if cfg.LogLevel == "debug" || cfg.LogLevel == "trace" {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}

	client := agent.NewClient(cfg.ServerURL, cfg.Token)
	if cfg.Token == "" && cfg.Key != "" {
		if err := client.Login(ctx, name, role, cfg.Key); err != nil {
			return nil, err
		}
		Info("logged in to %s as %s", cfg.ServerURL, name)
	}

	newPeer, err := agent.NewPeerFactory(cfg.ICEServers)
	if err != nil {
		return nil, err
	}

	return &Agent{Config: cfg, Client: client, NewPeer: newPeer}, nil
}

func Info(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// Status prints a state label, green for the steady state and yellow
// otherwise.
func Status(label string, steady bool) {
	if steady {
		pterm.Success.Println(label)
		return
	}
	pterm.Warning.Println(label)
}

package main

import (
	"log"
	"os"

	"github.com/tudihq/deras-agent/deras"
	"github.com/tudihq/deras-agent/inventory"
	"github.com/tudihq/deras-agent/server"
	"github.com/tudihq/deras-agent/settings"
)

// Agent ties the gateway connection, the consumer server, and the
// persisted settings into one lifecycle.
type Agent struct {
	Logger      *log.Logger
	Conn        *deras.Conn
	Settings    *settings.Store
	Inventory   *inventory.Store
	Server      *server.Server
	ServerPort  int
	DisableMDNS bool
}

func NewAgent(store *settings.Store) *Agent {
	return &Agent{
		Logger:    log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Conn:      deras.New(deras.Options{}),
		Settings:  store,
		Inventory: inventory.NewStore(),
	}
}

// Start brings up the consumer server and, when the saved settings ask
// for it, connects to the gateway immediately. A failed auto-connect is
// logged, not fatal; the user can retry from the front-end.
func (a *Agent) Start() error {
	a.Server = server.New(server.Config{
		Conn:        a.Conn,
		Settings:    a.Settings,
		Inventory:   a.Inventory,
		Port:        a.ServerPort,
		DisableMDNS: a.DisableMDNS,
	})
	if err := a.Server.Start(); err != nil {
		return err
	}

	cfg := a.Settings.Load()
	if cfg.AutoConnect {
		mode := deras.ModeLive
		if cfg.MockMode {
			mode = deras.ModeMock
		}
		a.Logger.Printf("auto-connecting to %s (%s)", cfg.URL, mode)
		if err := a.Conn.Connect(cfg.URL, mode); err != nil {
			a.Logger.Printf("auto-connect failed: %v", err)
		}
	}

	return nil
}

// Stop shuts everything down in dependency order.
func (a *Agent) Stop() {
	if a.Server != nil {
		a.Server.Stop()
		a.Server = nil
	}
	a.Conn.Close()
	if err := a.Settings.Close(); err != nil {
		a.Logger.Printf("settings close error: %v", err)
	}
	a.Logger.Println("agent stopped")
}

// Package mdns provides optional mDNS/Bonjour service advertisement.
//
// When enabled, the daemon advertises itself on the local network using
// DNS-SD so client apps can discover it without manual IP entry. This is
// opt-in: discovery only reveals presence, and the pre-shared key is still
// required to talk to the API.
package mdns

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for relay daemons.
const ServiceType = "_termrelay._tcp"

// ProtocolVersion identifies the advertised API generation.
const ProtocolVersion = "1"

// Config holds advertisement parameters.
type Config struct {
	// Port is the server port to advertise.
	Port int

	// Version is the daemon version placed in the TXT records.
	Version string

	// Name is a human-readable instance name; defaults to the hostname.
	Name string
}

// Advertiser manages the DNS-SD registration lifecycle.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Call Start to register.
func NewAdvertiser(config Config) *Advertiser {
	return &Advertiser{config: config}
}

// Start registers the service on the local network.
// Calling Start on an already-started advertiser is an error.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("mdns advertiser already started")
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "termrelay"
		}
		name = hostname
	}

	txt := []string{
		"version=" + a.config.Version,
		"proto=" + ProtocolVersion,
	}

	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns registration failed: %w", err)
	}
	a.server = server

	log.Printf("mdns: advertising %s on port %d as %q", ServiceType, a.config.Port, name)
	return nil
}

// Stop withdraws the advertisement. Safe to call without a prior Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		log.Printf("mdns: advertisement withdrawn")
	}
}

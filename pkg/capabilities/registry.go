package capabilities

import (
	"fmt"

	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/registry"
)

// Status of a loaded plugin.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Entry is one discovered capability. Handler is nil until the adapter wraps
// the capability for an enabled plugin entry; discovered-but-unconfigured
// capabilities stay visible for introspection but are not routable.
type Entry struct {
	Info    CapabilityInfo
	Plugin  Plugin
	Handler Handler
	Status  Status
	Err     string

	wrapped bool
}

// Routable reports whether the capability has an active wrapped handler.
func (e *Entry) Routable() bool {
	return e.Status == StatusActive && e.Handler != nil
}

type Registry struct {
	base *registry.BaseRegistry[*Entry]
}

func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[*Entry]()}
}

// inventory is the compile-time plugin discovery list. Built-in plugins add
// themselves via RegisterPlugin from init.
var inventory []Plugin

// RegisterPlugin adds a plugin to the startup discovery inventory.
func RegisterPlugin(p Plugin) {
	inventory = append(inventory, p)
}

// Inventory returns the discovered plugins.
func Inventory() []Plugin {
	return inventory
}

// LoadPlugins registers each plugin's capability. Invalid declarations are
// logged and marked errored; a duplicate capability id loses to the first
// registration.
func (r *Registry) LoadPlugins(plugins []Plugin) {
	log := logger.WithComponent("capabilities")

	for _, p := range plugins {
		info := p.RegisterCapability()
		if info.ID == "" || info.Name == "" || info.Version == "" {
			log.Error("plugin declared invalid capability",
				"id", info.ID, "name", info.Name, "version", info.Version)
			if info.ID != "" {
				_ = r.base.Register(info.ID, &Entry{
					Info:   info,
					Plugin: p,
					Status: StatusError,
					Err:    "missing id, name, or version",
				})
			}
			continue
		}

		entry := &Entry{Info: info, Plugin: p, Status: StatusInactive}
		if err := r.base.Register(info.ID, entry); err != nil {
			log.Warn("duplicate capability id, keeping first registration", "id", info.ID)
			continue
		}
		log.Debug("capability registered", "id", info.ID, "version", info.Version)
	}
}

func (r *Registry) Get(id string) (*Entry, bool) {
	return r.base.Get(id)
}

// List returns entries in registration order.
func (r *Registry) List() []*Entry {
	return r.base.List()
}

func (r *Registry) Names() []string {
	return r.base.Names()
}

func (r *Registry) Count() int {
	return r.base.Count()
}

// Handler returns the wrapped handler for a routable capability.
func (r *Registry) Handler(id string) (Handler, error) {
	entry, ok := r.base.Get(id)
	if !ok {
		return nil, fmt.Errorf("capability %q not registered", id)
	}
	if !entry.Routable() {
		return nil, fmt.Errorf("capability %q is not routable (status %s)", id, entry.Status)
	}
	return entry.Handler, nil
}

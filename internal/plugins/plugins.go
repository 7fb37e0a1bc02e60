// Package plugins holds the optional features that can be enabled by name.
// A plugin contributes functions, call hooks and routes.
package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/functions"
)

// RecordSavedFunc runs after a call record was stored.
type RecordSavedFunc func(ctx context.Context, m *call.Manager, record *entities.CallRecord) error

// Env holds the dependencies plugins are built from.
type Env struct {
	Registry    *call.Registry
	CallRecords repositories.CallRecordRepository
	Summarizer  repositories.Summarizer
	Logger      *zap.Logger

	recording   bool
	recordSaved []RecordSavedFunc
}

// OnRecordSaved subscribes fn to stored call records. It only has an effect
// when the call_record plugin is enabled.
func (e *Env) OnRecordSaved(fn RecordSavedFunc) {
	e.recordSaved = append(e.recordSaved, fn)
}

// Plugin is what one enabled plugin contributes.
type Plugin struct {
	Name      string
	Functions []functions.Function
	// Hooks registers call lifecycle callbacks.
	Hooks func(h *call.Hooks)
	// BeforeStartup runs once before the server starts listening.
	BeforeStartup func(e *echo.Echo) error
}

// Constructor builds a plugin.
type Constructor func(env *Env) (*Plugin, error)

type entry struct {
	name string
	new  Constructor
}

// catalog lists the built-in plugins in construction order. call_record
// comes first so that later plugins can subscribe to stored records.
var catalog = []entry{
	{CallRecordName, newCallRecord},
	{SummaryName, newSummary},
	{StatusName, newStatus},
}

// Names lists the available plugins.
func Names() []string {
	names := make([]string, len(catalog))
	for i, e := range catalog {
		names[i] = e.name
	}
	return names
}

// Set is the collection of enabled plugins.
type Set struct {
	plugins []*Plugin
	logger  *zap.Logger
}

// Load builds the named plugins. Unknown names are an error.
func Load(names []string, env Env) (*Set, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	enabled := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if !known(name) {
			return nil, fmt.Errorf("unknown plugin %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		enabled[name] = true
	}

	set := &Set{logger: env.Logger}
	for _, e := range catalog {
		if !enabled[e.name] {
			continue
		}
		p, err := e.new(&env)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", e.name, err)
		}
		set.plugins = append(set.plugins, p)
		env.Logger.Info("Plugin enabled", zap.String("plugin", e.name))
	}
	return set, nil
}

func known(name string) bool {
	for _, e := range catalog {
		if e.name == name {
			return true
		}
	}
	return false
}

// Names lists the enabled plugins in construction order.
func (s *Set) Names() []string {
	names := make([]string, len(s.plugins))
	for i, p := range s.plugins {
		names[i] = p.Name
	}
	return names
}

// Functions returns the functions contributed by all plugins.
func (s *Set) Functions() []functions.Function {
	var fns []functions.Function
	for _, p := range s.plugins {
		fns = append(fns, p.Functions...)
	}
	return fns
}

// RegisterHooks adds the callbacks of all plugins to h.
func (s *Set) RegisterHooks(h *call.Hooks) {
	for _, p := range s.plugins {
		if p.Hooks != nil {
			p.Hooks(h)
		}
	}
}

// BeforeStartup lets the plugins register routes. Failures are logged with
// the plugin name and do not stop the others.
func (s *Set) BeforeStartup(e *echo.Echo) {
	for _, p := range s.plugins {
		if p.BeforeStartup == nil {
			continue
		}
		if err := p.BeforeStartup(e); err != nil {
			s.logger.Error("Hook callback failed",
				zap.String("hook", "BeforeStartup"),
				zap.String("callback", p.Name),
				zap.Error(err))
		}
	}
}

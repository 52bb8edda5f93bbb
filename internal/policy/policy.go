// Package policy defines which tasks a supervisor runs.
// A Definition is an ordered list of task factories layered over an optional
// base definition; a derived definition overrides a base task by producing a
// task with the same name.
package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/config"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/task"
)

// Deps carries what task factories need to build their tasks.
type Deps struct {
	Config     *config.Config
	FileSystem domain.FileSystemManager
	AllowList  domain.AllowListBuilder
	Logger     *zap.Logger
}

// Factory builds one task. A nil task with a nil error means the task is
// disabled by configuration.
type Factory func(deps Deps) (domain.Task, error)

// Definition is a named, layered set of task factories.
type Definition struct {
	Name      string
	Base      *Definition
	Factories []Factory
}

// Build registers the base definition's tasks first, then this definition's.
func (d *Definition) Build(deps Deps) (*task.Registry, error) {
	var (
		reg *task.Registry
		err error
	)
	if d.Base != nil {
		reg, err = d.Base.Build(deps)
		if err != nil {
			return nil, err
		}
	} else {
		reg = task.NewRegistry()
	}

	for _, factory := range d.Factories {
		t, err := factory(deps)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", d.Name, err)
		}
		if t == nil {
			continue
		}
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("definition %s: %w", d.Name, err)
		}
	}
	return reg, nil
}

// Base is the empty definition every supervisor derives from.
func Base() *Definition {
	return &Definition{Name: "base"}
}

// Standard is the shipped definition: the basic-auth check and the
// allow-list refresh, each gated by its enable flag.
func Standard() *Definition {
	return &Definition{
		Name: "standard",
		Base: Base(),
		Factories: []Factory{
			BasicCheckFactory,
			AllowListFactory,
		},
	}
}

// BasicCheckFactory builds the basic-auth failure check when BASIC_CHECK is on.
func BasicCheckFactory(deps Deps) (domain.Task, error) {
	if !deps.Config.BasicCheckEnabled() {
		deps.Logger.Info("basic check disabled")
		return nil, nil
	}
	return task.NewCheckTask(NewBasicAuthRule(), deps.Config.BasePath, deps.Config.MaxTime, deps.Logger)
}

// AllowListFactory builds the allow-list refresh when IP_CHECK is on.
func AllowListFactory(deps Deps) (domain.Task, error) {
	if !deps.Config.IPCheckEnabled() {
		deps.Logger.Info("allow-list refresh disabled")
		return nil, nil
	}
	if deps.AllowList == nil {
		return nil, fmt.Errorf("allow-list refresh enabled without a builder")
	}
	return NewAllowListTask(deps.AllowList, deps.FileSystem, deps.Logger), nil
}

// Rules returns the check rules enabled by cfg, for reporting.
func Rules(cfg *config.Config) []domain.Rule {
	var rules []domain.Rule
	if cfg.BasicCheckEnabled() {
		rules = append(rules, NewBasicAuthRule())
	}
	return rules
}

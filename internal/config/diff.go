package config

import "reflect"

// Diff describes which reloadable parts of the config changed between two
// loads. Backend, NATS, store, web, and vault settings are fixed for the
// process lifetime; they show up under NonReloadable so the caller can warn.
type Diff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	RouterChanged   bool
	NewDefaultAgent string

	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *Diff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.SchedulerChanged ||
		d.RouterChanged
}

// Compare returns the difference between two loaded configs.
func Compare(old, new *Config) Diff {
	var d Diff

	for id, def := range new.Roster.Agents {
		oldDef, ok := old.Roster.Agents[id]
		if !ok {
			d.AgentsAdded = append(d.AgentsAdded, id)
			continue
		}
		if !reflect.DeepEqual(oldDef, def) {
			d.AgentsChanged = append(d.AgentsChanged, id)
		}
	}
	for id := range old.Roster.Agents {
		if _, ok := new.Roster.Agents[id]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, id)
		}
	}

	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Router.DefaultAgent != new.Router.DefaultAgent {
		d.RouterChanged = true
		d.NewDefaultAgent = new.Router.DefaultAgent
	}

	if old.Backend != new.Backend {
		d.NonReloadable = append(d.NonReloadable, "backend")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store != new.Store {
		d.NonReloadable = append(d.NonReloadable, "store")
	}
	if old.Web != new.Web {
		d.NonReloadable = append(d.NonReloadable, "web")
	}
	if old.Vault != new.Vault {
		d.NonReloadable = append(d.NonReloadable, "vault")
	}

	return d
}

package app

import (
	"schedd/internal/dispatch"
	"schedd/internal/recurrence"
	"schedd/internal/runtime/supervisor"
	"schedd/internal/trigger"
)

// Status is the /status payload of the debug listener.
type Status struct {
	Today      recurrence.Date     `json:"today"`
	Dispatcher bool                `json:"dispatcher_enabled"`
	LastRun    *dispatch.Report    `json:"last_run,omitempty"`
	Trigger    trigger.Snapshot    `json:"trigger"`
	Notifier   NotifierStatus      `json:"notifier"`
	Supervisor supervisor.Counters `json:"supervisor"`
}

type NotifierStatus struct {
	Enabled bool `json:"enabled"`
	Sent    int  `json:"sent"`
}

func (a *App) Status() Status {
	a.mu.Lock()
	enabled := a.dispatchEnabled
	a.mu.Unlock()

	st := Status{
		Today:      a.disp.Today(),
		Dispatcher: enabled,
		Trigger:    a.trig.Snapshot(),
		Notifier:   NotifierStatus{Enabled: a.notif.Enabled(), Sent: len(a.notif.Snapshot())},
		Supervisor: a.sup.Counters(),
	}
	if rep, ok := a.disp.LastReport(); ok {
		st.LastRun = &rep
	}
	return st
}

package risk

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// KillSwitchStatus is a point-in-time view of the kill switch.
type KillSwitchStatus struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// KillSwitch is the process-wide trading halt. While active the gate rejects every
// intent with KILL_SWITCH_ACTIVE.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time
	onActivate  []func(reason string)
}

func NewKillSwitch(active bool) *KillSwitch {
	k := &KillSwitch{active: active}
	if active {
		k.reason = "halted at startup"
		k.activatedAt = time.Now().UTC()
	}
	return k
}

// OnActivate registers fn to run, outside the lock, every time the switch is engaged.
func (k *KillSwitch) OnActivate(fn func(reason string)) {
	k.mu.Lock()
	k.onActivate = append(k.onActivate, fn)
	k.mu.Unlock()
}

// Activate engages the switch. It reports false if it was already active.
func (k *KillSwitch) Activate(reason string) bool {
	k.mu.Lock()
	if k.active {
		k.mu.Unlock()
		return false
	}
	k.active = true
	k.reason = reason
	k.activatedAt = time.Now().UTC()
	hooks := append([]func(string){}, k.onActivate...)
	k.mu.Unlock()

	log.WithField("reason", reason).Warn("kill switch activated")
	for _, fn := range hooks {
		fn(reason)
	}
	return true
}

// Deactivate releases the switch. Paused bots stay paused until resumed.
func (k *KillSwitch) Deactivate() {
	k.mu.Lock()
	was := k.active
	k.active = false
	k.reason = ""
	k.activatedAt = time.Time{}
	k.mu.Unlock()

	if was {
		log.Info("kill switch deactivated")
	}
}

func (k *KillSwitch) Active() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *KillSwitch) Status() KillSwitchStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	st := KillSwitchStatus{Active: k.active, Reason: k.reason}
	if k.active {
		at := k.activatedAt
		st.ActivatedAt = &at
	}
	return st
}

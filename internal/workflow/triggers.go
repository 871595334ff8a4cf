package workflow

import (
	"regexp"
	"strings"
	"sync"

	"github.com/devassist/conductor/internal/cron"
)

// TriggerEvent is the payload that arrives when something in the host
// system fires a trigger: a file save, a detected error string, a typed
// command, a webhook call, a git hook name, or a scheduler tick.
type TriggerEvent struct {
	Type    TriggerType
	Payload string
}

// matches reports whether t fires for event, per trigger type's
// matching rule: regex for file-save/git-hook, substring for
// error-detected, exact string for command/webhook (an empty Pattern
// matches any payload). Schedule and manual
// triggers are never matched here — schedule activation is driven by
// the cron scheduler (Executor.CheckSchedules), and manual triggers are started
// directly by StartRun, not via ProcessTrigger.
func (t Trigger) matches(event TriggerEvent) (bool, error) {
	if t.Type != event.Type {
		return false, nil
	}
	switch t.Type {
	case TriggerFileSave, TriggerGitHook:
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(event.Payload), nil
	case TriggerErrorDetected:
		return strings.Contains(event.Payload, t.Pattern), nil
	case TriggerCommand, TriggerWebhook:
		if t.Pattern == "" {
			return true, nil
		}
		return t.Pattern == event.Payload, nil
	default:
		return false, nil
	}
}

// scheduleCache parses and caches cron.Schedule values for each
// workflow's schedule triggers, keyed by the cron expression so multiple
// workflows sharing a schedule string don't reparse it.
type scheduleCache struct {
	mu    sync.Mutex
	cache map[string]*cron.Schedule
}

func newScheduleCache() *scheduleCache {
	return &scheduleCache{cache: make(map[string]*cron.Schedule)}
}

func (s *scheduleCache) get(expr, timezone string) (*cron.Schedule, error) {
	key := timezone + "|" + expr
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.cache[key]; ok {
		return sched, nil
	}
	sched, err := cron.Parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	s.cache[key] = sched
	return sched, nil
}

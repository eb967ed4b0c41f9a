package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	logx "teleads/pkg/logx"
)

// Schedule registers fn under name, replacing any previous entry with that
// name. Supported specs:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) Schedule(name, spec string, fn func(ctx context.Context)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if fn == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	var sched cron.Schedule
	switch ps.Kind {
	case SpecCron:
		sched, err = s.parser.Parse(ps.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	case SpecInterval:
		sched = cron.Every(ps.Every)
	default:
		return fmt.Errorf("unsupported schedule kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &entryDef{name: name, spec: strings.TrimSpace(spec), sched: sched, job: fn}
	s.defs[name] = d
	if s.c != nil {
		s.addLocked(d)
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.spec),
			logx.Time("next", s.c.Entry(d.entryID).Next))
	}
	return nil
}

// Cancel removes the entry. It reports whether one existed.
func (s *Service) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// Active returns the spec of a registered entry.
func (s *Service) Active(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[strings.TrimSpace(name)]
	if !ok {
		return "", false
	}
	return d.spec, true
}

// Entries lists registered entries sorted by name. Next/Prev are zero
// until the scheduler is started.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := EntryInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addLocked(d *entryDef) {
	ctx := s.ctx
	job := d.job
	name := d.name
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.log.Debug("schedule fired", logx.String("name", name))
		job(ctx)
	}))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

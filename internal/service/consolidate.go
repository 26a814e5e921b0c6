package service

import (
	"sort"
	"time"
)

// ConsolidationResult lists, for every tenant that had more than one
// session, the name that was kept and the names that were removed.
type ConsolidationResult struct {
	Kept    []string `json:"kept"`
	Cleaned []string `json:"cleaned"`
}

type candidate struct {
	name        string
	s           *session
	isLive      bool
	connectedAt time.Time
}

func rankCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.isLive != b.isLive {
			return a.isLive
		}
		if !a.connectedAt.Equal(b.connectedAt) {
			return a.connectedAt.After(b.connectedAt)
		}
		return a.name < b.name
	})
}

// TenantKey extracts the tenant id from an instance name.
func (m *Manager) TenantKey(name string) (string, bool) {
	match := m.opts.TenantPattern.FindStringSubmatch(name)
	if len(match) < 2 || match[1] == "" {
		return "", false
	}
	return match[1], true
}

// Consolidate keeps the best session per tenant and removes the others
// together with their credentials. It opens no connections.
func (m *Manager) Consolidate() ConsolidationResult {
	groups := make(map[string][]string)
	m.mu.Lock()
	for name := range m.sessions {
		if key, ok := m.TenantKey(name); ok {
			groups[key] = append(groups[key], name)
		}
	}
	m.mu.Unlock()

	res := ConsolidationResult{Kept: []string{}, Cleaned: []string{}}
	for _, names := range groups {
		if len(names) < 2 {
			continue
		}
		kept, cleaned := m.consolidateGroup(names)
		if kept != "" {
			res.Kept = append(res.Kept, kept)
		}
		res.Cleaned = append(res.Cleaned, cleaned...)
	}

	sort.Strings(res.Kept)
	sort.Strings(res.Cleaned)
	if n := len(res.Cleaned); n > 0 {
		m.metrics.consolidate(n)
		m.log.Info().Strs("kept", res.Kept).Strs("cleaned", res.Cleaned).Msg("consolidated duplicate tenant sessions")
	}
	return res
}

// consolidateGroup holds the per-name locks of every member, ranks the
// sessions registered right now and removes all but the first.
func (m *Manager) consolidateGroup(names []string) (string, []string) {
	sort.Strings(names)
	for _, name := range names {
		unlock := m.locks.Lock(name)
		defer unlock()
	}

	m.mu.Lock()
	group := make([]candidate, 0, len(names))
	for _, name := range names {
		if s := m.sessions[name]; s != nil {
			group = append(group, candidate{name: name, s: s, isLive: s.isLive, connectedAt: s.connectedAt})
		}
	}
	m.mu.Unlock()
	if len(group) < 2 {
		return "", nil
	}

	rankCandidates(group)
	var cleaned []string
	for _, c := range group[1:] {
		m.mu.Lock()
		same := m.sessions[c.name] == c.s
		m.mu.Unlock()
		if !same {
			continue
		}
		m.deleteLocked(c.name, "duplicate tenant session", true)
		cleaned = append(cleaned, c.name)
	}
	return group[0].name, cleaned
}

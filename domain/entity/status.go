package entity

import "strings"

type NormalizedStatus int

const (
	StatusNone NormalizedStatus = iota
	StatusOpen
	StatusResolve
)

func (s NormalizedStatus) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusResolve:
		return "RESOLVE"
	default:
		return "NONE"
	}
}

// openStatuses and resolveStatuses collapse the vocabulary of the supported
// monitoring sources. Zabbix reports problem/incident and ok/resolved,
// AppDynamics (pt-BR installations) reports falha and resolução.
var (
	openStatuses = map[string]struct{}{
		"problem":  {},
		"incident": {},
		"falha":    {},
	}
	resolveStatuses = map[string]struct{}{
		"ok":        {},
		"resolved":  {},
		"resolução": {},
		"resolucao": {},
	}
)

// NormalizeStatus maps a raw monitoring status onto the three classes the
// planner understands. Matching is case-insensitive.
func NormalizeStatus(raw string) NormalizedStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := openStatuses[s]; ok {
		return StatusOpen
	}
	if _, ok := resolveStatuses[s]; ok {
		return StatusResolve
	}
	return StatusNone
}

package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxLogs caps the merged log list
const MaxLogs = 1000

// ErrUnknownPolicy is returned for a policy Resolve does not implement
var ErrUnknownPolicy = errors.New("unknown resolve policy")

// Policy names a merge rule set
type Policy string

const (
	PolicyMedicalPriority Policy = "medical_priority"
	PolicyServerWins      Policy = "server_wins"
	PolicyLocalWins       Policy = "local_wins"
)

// LogRecord is a dose or medication log entry; Record is passed through untouched
type LogRecord struct {
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Record    json.RawMessage `json:"record,omitempty"`
}

// Snapshot is the state exchanged with the remote system during reconciliation
type Snapshot struct {
	Logs          []LogRecord                `json:"logs,omitempty"`
	Prescriptions map[string]json.RawMessage `json:"prescriptions,omitempty"`
	Preferences   map[string]json.RawMessage `json:"preferences,omitempty"`
	Extra         map[string]json.RawMessage `json:"extra,omitempty"`
}

// ParsePolicy validates a configured policy name
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(name); p {
	case PolicyMedicalPriority, PolicyServerWins, PolicyLocalWins:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Resolve merges local and server state. It has no side effects and returns
// the same output for the same inputs; resolving an output against itself
// returns it unchanged.
func Resolve(local, server Snapshot, policy Policy) (Snapshot, error) {
	switch policy {
	case PolicyMedicalPriority:
		return Snapshot{
			Logs:          mergeLogs(local.Logs, server.Logs, newerWins),
			Prescriptions: preferNonEmpty(server.Prescriptions, local.Prescriptions),
			Preferences:   overlay(server.Preferences, local.Preferences),
			Extra:         overlay(local.Extra, server.Extra),
		}, nil

	case PolicyServerWins:
		return Snapshot{
			Logs:          mergeLogs(local.Logs, server.Logs, serverWins),
			Prescriptions: overlay(local.Prescriptions, server.Prescriptions),
			Preferences:   overlay(local.Preferences, server.Preferences),
			Extra:         overlay(local.Extra, server.Extra),
		}, nil

	case PolicyLocalWins:
		return Snapshot{
			Logs:          mergeLogs(local.Logs, server.Logs, localWins),
			Prescriptions: overlay(server.Prescriptions, local.Prescriptions),
			Preferences:   overlay(server.Preferences, local.Preferences),
			Extra:         overlay(server.Extra, local.Extra),
		}, nil
	}

	return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
}

// pick chooses between two records sharing an id
type pick func(local, server LogRecord) LogRecord

// newerWins keeps the later update; ties go to the server
func newerWins(local, server LogRecord) LogRecord {
	if local.UpdatedAt.After(server.UpdatedAt) {
		return local
	}
	return server
}

func serverWins(_, server LogRecord) LogRecord { return server }

func localWins(local, _ LogRecord) LogRecord { return local }

// mergeLogs unions both lists by id, newest first, capped at MaxLogs
func mergeLogs(local, server []LogRecord, choose pick) []LogRecord {
	byID := make(map[string]LogRecord, len(local)+len(server))
	for _, rec := range server {
		byID[rec.ID] = rec
	}
	for _, rec := range local {
		if existing, ok := byID[rec.ID]; ok {
			byID[rec.ID] = choose(rec, existing)
			continue
		}
		byID[rec.ID] = rec
	}

	if len(byID) == 0 {
		return nil
	}

	merged := make([]LogRecord, 0, len(byID))
	for _, rec := range byID {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})

	if len(merged) > MaxLogs {
		merged = merged[:MaxLogs]
	}
	return merged
}

// preferNonEmpty returns a copy of primary unless it is empty
func preferNonEmpty(primary, fallback map[string]json.RawMessage) map[string]json.RawMessage {
	if len(primary) > 0 {
		return overlay(nil, primary)
	}
	return overlay(nil, fallback)
}

// overlay copies base and writes top over it key by key
func overlay(base, top map[string]json.RawMessage) map[string]json.RawMessage {
	if len(base) == 0 && len(top) == 0 {
		return nil
	}

	out := make(map[string]json.RawMessage, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

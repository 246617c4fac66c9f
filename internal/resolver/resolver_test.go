package resolver

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

// The later update wins, swapping which side is newer swaps the winner,
// and resolving the output against itself is a no-op
func TestResolve_MedicalPriorityLogs(t *testing.T) {
	t1, t2 := t0, t0.Add(time.Hour)

	local := Snapshot{Logs: []LogRecord{{ID: "1", UpdatedAt: t2, Record: raw(`{"status":"taken"}`)}}}
	server := Snapshot{Logs: []LogRecord{{ID: "1", UpdatedAt: t1, Record: raw(`{"status":"missed"}`)}}}

	out, err := Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)
	require.Len(t, out.Logs, 1)
	assert.Equal(t, local.Logs[0], out.Logs[0])

	local.Logs[0].UpdatedAt, server.Logs[0].UpdatedAt = t1, t2
	swapped, err := Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)
	assert.Equal(t, server.Logs[0], swapped.Logs[0])

	again, err := Resolve(out, out, PolicyMedicalPriority)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestResolve_TieGoesToServer(t *testing.T) {
	local := Snapshot{Logs: []LogRecord{{ID: "1", UpdatedAt: t0, Record: raw(`"local"`)}}}
	server := Snapshot{Logs: []LogRecord{{ID: "1", UpdatedAt: t0, Record: raw(`"server"`)}}}

	out, err := Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)
	assert.Equal(t, raw(`"server"`), out.Logs[0].Record)
}

func TestResolve_LogsUnionSortedAndCapped(t *testing.T) {
	var local, server Snapshot
	for i := 0; i < 700; i++ {
		local.Logs = append(local.Logs, LogRecord{ID: fmt.Sprintf("l%d", i), UpdatedAt: t0.Add(time.Duration(i) * time.Minute)})
		server.Logs = append(server.Logs, LogRecord{ID: fmt.Sprintf("s%d", i), UpdatedAt: t0.Add(time.Duration(i)*time.Minute + time.Second)})
	}

	out, err := Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)
	require.Len(t, out.Logs, MaxLogs)
	assert.Equal(t, "s699", out.Logs[0].ID, "most recent first")
	assert.Equal(t, "l699", out.Logs[1].ID)
	for i := 1; i < len(out.Logs); i++ {
		assert.False(t, out.Logs[i].UpdatedAt.After(out.Logs[i-1].UpdatedAt))
	}
}

func TestResolve_MedicalPriorityRecords(t *testing.T) {
	local := Snapshot{
		Prescriptions: map[string]json.RawMessage{"rx-1": raw(`{"dose":"5mg"}`)},
		Preferences:   map[string]json.RawMessage{"theme": raw(`"dark"`), "quiet_hours": raw(`"22:00-07:00"`)},
		Extra:         map[string]json.RawMessage{"profile": raw(`"local"`), "device": raw(`"phone"`)},
	}
	server := Snapshot{
		Prescriptions: map[string]json.RawMessage{"rx-2": raw(`{"dose":"10mg"}`)},
		Preferences:   map[string]json.RawMessage{"theme": raw(`"light"`), "language": raw(`"hu"`)},
		Extra:         map[string]json.RawMessage{"profile": raw(`"server"`)},
	}

	out, err := Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)

	assert.Equal(t, server.Prescriptions, out.Prescriptions, "server prescriptions win when present")
	assert.Equal(t, map[string]json.RawMessage{
		"theme":       raw(`"dark"`),
		"quiet_hours": raw(`"22:00-07:00"`),
		"language":    raw(`"hu"`),
	}, out.Preferences)
	assert.Equal(t, map[string]json.RawMessage{
		"profile": raw(`"server"`),
		"device":  raw(`"phone"`),
	}, out.Extra)

	server.Prescriptions = nil
	out, err = Resolve(local, server, PolicyMedicalPriority)
	require.NoError(t, err)
	assert.Equal(t, local.Prescriptions, out.Prescriptions, "local used only when the server has none")
}

func TestResolve_OtherPolicies(t *testing.T) {
	local := Snapshot{
		Logs:        []LogRecord{{ID: "1", UpdatedAt: t0.Add(time.Hour), Record: raw(`"local"`)}},
		Preferences: map[string]json.RawMessage{"theme": raw(`"dark"`)},
	}
	server := Snapshot{
		Logs:        []LogRecord{{ID: "1", UpdatedAt: t0, Record: raw(`"server"`)}},
		Preferences: map[string]json.RawMessage{"theme": raw(`"light"`)},
	}

	out, err := Resolve(local, server, PolicyServerWins)
	require.NoError(t, err)
	assert.Equal(t, raw(`"server"`), out.Logs[0].Record)
	assert.Equal(t, raw(`"light"`), out.Preferences["theme"])

	out, err = Resolve(local, server, PolicyLocalWins)
	require.NoError(t, err)
	assert.Equal(t, raw(`"local"`), out.Logs[0].Record)
	assert.Equal(t, raw(`"dark"`), out.Preferences["theme"])

	_, err = Resolve(local, server, Policy("last_writer"))
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("medical_priority")
	require.NoError(t, err)
	assert.Equal(t, PolicyMedicalPriority, p)

	_, err = ParsePolicy("")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestResolve_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	toLogs := func(offsets []int, prefix string) []LogRecord {
		logs := make([]LogRecord, 0, len(offsets))
		for i, off := range offsets {
			logs = append(logs, LogRecord{
				ID:        fmt.Sprintf("%d", i%5),
				UpdatedAt: t0.Add(time.Duration(off) * time.Minute),
				Record:    raw(fmt.Sprintf(`"%s-%d"`, prefix, off)),
			})
		}
		return logs
	}

	properties.Property("resolve is deterministic and idempotent", prop.ForAll(
		func(localOffsets, serverOffsets []int) bool {
			local := Snapshot{Logs: toLogs(localOffsets, "local")}
			server := Snapshot{Logs: toLogs(serverOffsets, "server")}

			first, err := Resolve(local, server, PolicyMedicalPriority)
			if err != nil {
				return false
			}
			second, err := Resolve(local, server, PolicyMedicalPriority)
			if err != nil {
				return false
			}
			again, err := Resolve(first, first, PolicyMedicalPriority)
			if err != nil {
				return false
			}

			return assert.ObjectsAreEqual(first, second) && assert.ObjectsAreEqual(first, again)
		},
		gen.SliceOfN(5, gen.IntRange(0, 100)),
		gen.SliceOfN(5, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

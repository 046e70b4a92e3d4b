package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
	"missioncontrol/internal/validation"
)

func TestCronJobDocumentAcceptsEachKind(t *testing.T) {
	docs := map[string]string{
		"cron":  `{"name":"Pulse","schedule":{"kind":"cron","expr":"0,15,30,45 * * * *","tz":"America/Sao_Paulo"},"session_target":"main","payload":{"kind":"systemEvent","message":"pulse"}}`,
		"every": `{"name":"Admin","enabled":false,"schedule":{"kind":"every","every_ms":900000},"payload":{"kind":"agentTurn","message":"check"}}`,
		"at":    `{"name":"Once","schedule":{"kind":"at","at":"2026-01-02T03:04:05Z"},"payload":{"kind":"agentTurn","message":"go"},"delivery":{"mode":"announce","channel":"ops"}}`,
	}
	for kind, doc := range docs {
		t.Run(kind, func(t *testing.T) {
			def, err := validation.CronJobDocument([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, core.ScheduleKind(kind), def.Schedule.Kind)
		})
	}
}

func TestCronJobDocumentRejects(t *testing.T) {
	cases := map[string]string{
		"missing name":      `{"schedule":{"kind":"cron","expr":"* * * * *"},"payload":{"kind":"agentTurn","message":"x"}}`,
		"unknown kind":      `{"name":"a","schedule":{"kind":"weekly"},"payload":{"kind":"agentTurn","message":"x"}}`,
		"cron without expr": `{"name":"a","schedule":{"kind":"cron"},"payload":{"kind":"agentTurn","message":"x"}}`,
		"zero interval":     `{"name":"a","schedule":{"kind":"every","every_ms":0},"payload":{"kind":"agentTurn","message":"x"}}`,
		"bad target":        `{"name":"a","schedule":{"kind":"cron","expr":"* * * * *"},"session_target":"shared","payload":{"kind":"agentTurn","message":"x"}}`,
		"extra field":       `{"name":"a","owner":"b","schedule":{"kind":"cron","expr":"* * * * *"},"payload":{"kind":"agentTurn","message":"x"}}`,
		"empty message":     `{"name":"a","schedule":{"kind":"cron","expr":"* * * * *"},"payload":{"kind":"agentTurn","message":""}}`,
		"not json":          `{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := validation.CronJobDocument([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestCronJobValueFromDecodedMap(t *testing.T) {
	doc := map[string]any{
		"name":     "Daily",
		"agent":    "Scout",
		"schedule": map[string]any{"kind": "every", "every_ms": 60000},
		"payload":  map[string]any{"kind": "agentTurn", "message": "scan"},
	}
	def, err := validation.CronJobValue(doc)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), def.Schedule.EveryMs)
	assert.Equal(t, "Scout", def.Agent)
}

func TestMergeCronJob(t *testing.T) {
	enabled := true
	current := core.JobDefinition{
		Name:     "Daily",
		Enabled:  &enabled,
		Schedule: core.ScheduleSpec{Kind: core.ScheduleCron, Expr: "0 9 * * *", Timezone: "UTC"},
		Payload:  core.Payload{Kind: core.PayloadAgentTurn, Message: "scan"},
	}

	t.Run("field merge keeps timezone", func(t *testing.T) {
		merged, err := validation.MergeCronJob(current, []byte(`{"enabled":false,"schedule":{"expr":"0 10 * * *"}}`))
		require.NoError(t, err)
		require.NotNil(t, merged.Enabled)
		assert.False(t, *merged.Enabled)
		assert.Equal(t, "0 10 * * *", merged.Schedule.Expr)
		assert.Equal(t, "UTC", merged.Schedule.Timezone)
		assert.Equal(t, "Daily", merged.Name)
	})

	t.Run("new kind replaces schedule", func(t *testing.T) {
		merged, err := validation.MergeCronJob(current, []byte(`{"schedule":{"kind":"every","every_ms":900000}}`))
		require.NoError(t, err)
		assert.Equal(t, core.ScheduleEvery, merged.Schedule.Kind)
		assert.Empty(t, merged.Schedule.Expr)
		assert.Empty(t, merged.Schedule.Timezone)
	})

	t.Run("invalid result", func(t *testing.T) {
		_, err := validation.MergeCronJob(current, []byte(`{"schedule":{"kind":"every"}}`))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

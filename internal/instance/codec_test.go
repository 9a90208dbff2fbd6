package instance

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/constraint"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

const sample = `{
  "model": {
    "nodes": [
      {"id": "n1", "online": true, "runningVMs": ["vm1", "vm2"]},
      {"id": "n2", "online": true, "sleepingVMs": ["vm3"]},
      {"id": "n3", "online": false}
    ],
    "readyVMs": ["vm4"],
    "views": [
      {"rcId": "cpu", "defCapacity": 8, "defConsumption": 1, "nodes": {"n2": 4}, "vms": {"vm1": 3}}
    ],
    "attributes": {"vms": {"vm1": {"migrate": "4"}}}
  },
  "constraints": [
    {"id": "spread", "vms": ["vm1", "vm2"], "continuous": false},
    {"id": "fence", "vms": ["vm1"], "nodes": ["n1", "n2"]},
    {"id": "among", "vms": ["vm1", "vm2"], "nodeGroups": [["n1"], ["n2", "n3"]]},
    {"id": "running", "vms": ["vm4"]},
    {"id": "overbook", "nodes": ["n1"], "rc": "cpu", "ratio": 1.5}
  ],
  "objective": {"id": "minimizeMTTR"}
}`

func TestDecode(t *testing.T) {
	inst, err := Decode(strings.NewReader(sample), FormatJSON)
	require.NoError(t, err)

	m := inst.Model.Mapping()
	assert.Equal(t, []model.Node{"n1", "n2", "n3"}, m.Nodes())
	assert.False(t, m.IsOnline("n3"))
	assert.Equal(t, model.VMStateSleeping, m.VMState("vm3"))
	assert.Equal(t, model.VMStateReady, m.VMState("vm4"))

	cpu, ok := inst.Model.View("cpu")
	require.True(t, ok)
	assert.Equal(t, 4, cpu.Capacity("n2"))
	assert.Equal(t, 8, cpu.Capacity("n1"))
	assert.Equal(t, 3, cpu.Consumption("vm1"))
	v, ok := inst.Model.Attributes().VMInt("vm1", "migrate")
	require.True(t, ok)
	assert.Equal(t, 4, v)

	require.Len(t, inst.Constraints, 5)
	assert.IsType(t, &constraint.Spread{}, inst.Constraints[0])
	assert.False(t, inst.Constraints[0].IsContinuous())
	assert.True(t, inst.Constraints[4].IsContinuous(), "overbook keeps its default mode")
	assert.Equal(t, constraint.MinMTTR{}, inst.Objective)
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown constraint",
			doc:  `{"model": {"nodes": []}, "constraints": [{"id": "teleport", "vms": ["vm1"]}]}`,
			want: ErrUnknownConstraint,
		},
		{
			name: "missing arguments",
			doc:  `{"model": {"nodes": []}, "constraints": [{"id": "fence", "vms": ["vm1"]}]}`,
			want: ErrInvalidDocument,
		},
		{
			name: "unknown objective",
			doc:  `{"model": {"nodes": []}, "objective": {"id": "minimizeCost"}}`,
			want: ErrUnknownObjective,
		},
		{
			name: "vm placed twice",
			doc:  `{"model": {"nodes": [{"id": "n1", "online": true, "runningVMs": ["vm1"]}], "readyVMs": ["vm1"]}}`,
			want: ErrInvalidDocument,
		},
		{
			name: "offline node hosting vms",
			doc:  `{"model": {"nodes": [{"id": "n1", "online": false, "runningVMs": ["vm1"]}]}}`,
			want: ErrInvalidDocument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.doc), FormatJSON)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := Decode(strings.NewReader(`{"model": {"nodes": []}, "extra": 1}`), FormatJSON)
	assert.Error(t, err)
	_, err = Decode(strings.NewReader(sample), Format("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncode_KeepsSemantics(t *testing.T) {
	inst, err := Decode(strings.NewReader(sample), FormatJSON)
	require.NoError(t, err)
	inst.Constraints = append(inst.Constraints,
		constraint.NewSplitAmong([][]model.VM{{"vm1"}, {"vm2"}}, [][]model.Node{{"n1"}, {"n2"}}),
		constraint.NewPreserve([]model.VM{"vm2"}, "cpu", 2),
	)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, *inst, format))
			back, err := Decode(&buf, format)
			require.NoError(t, err)

			assert.True(t, inst.Model.Mapping().Equal(back.Model.Mapping()))
			require.Len(t, back.Constraints, len(inst.Constraints))
			for i, c := range inst.Constraints {
				assert.Equal(t, c.String(), back.Constraints[i].String())
			}
			assert.Equal(t, inst.Objective, back.Objective)
		})
	}
}

func TestDecode_YAML(t *testing.T) {
	doc := `
model:
  nodes:
    - id: n1
      online: true
      runningVMs: [vm1]
    - id: n2
      online: true
constraints:
  - id: ban
    vms: [vm1]
    nodes: [n1]
`
	inst, err := Decode(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)

	res, err := scheduler.NewScheduler(scheduler.DefaultParameters(), zap.NewNop()).Solve(context.Background(), *inst)
	require.NoError(t, err)
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm1", "n1", "n2", 0, 1)}, res.Plan.Actions())
}

func TestPlanCodec(t *testing.T) {
	mo := model.New()
	mo.Mapping().AddOnlineNode("n1")
	mo.Mapping().AddOnlineNode("n2")
	require.NoError(t, mo.Mapping().AddRunningVM("vm1", "n1"))
	p := plan.New(mo)
	require.NoError(t, p.Add(plan.MigrateVM("vm1", "n1", "n2", 0, 3)))

	for _, format := range []Format{FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		require.NoError(t, EncodePlan(&buf, p, format))
		back, err := DecodePlan(&buf, format)
		require.NoError(t, err)
		assert.Equal(t, p.ID, back.ID)
		assert.Equal(t, p.Actions(), back.Actions())
		dst, err := back.Result()
		require.NoError(t, err)
		host, _ := dst.Mapping().Location("vm1")
		assert.Equal(t, model.Node("n2"), host)
	}
}

func TestFingerprint(t *testing.T) {
	inst, err := Decode(strings.NewReader(sample), FormatJSON)
	require.NoError(t, err)
	params := scheduler.DefaultParameters()

	a, err := Fingerprint(*inst, params)
	require.NoError(t, err)
	b, err := Fingerprint(*inst, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	params.Optimize = true
	c, err := Fingerprint(*inst, params)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	inst.Constraints = inst.Constraints[:1]
	d, err := Fingerprint(*inst, scheduler.DefaultParameters())
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestRegistry_Constraints(t *testing.T) {
	ids := NewRegistry().Constraints()
	assert.Contains(t, ids, "splitAmong")
	assert.Contains(t, ids, "sequentialVMTransitions")
	assert.Len(t, ids, 24)
}

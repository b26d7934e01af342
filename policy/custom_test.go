package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomPhases(t *testing.T) {
	tests := []struct {
		name     string
		phase    string
		wantPre  bool
		wantPost bool
	}{
		{name: "pre only", phase: CustomPhasePre, wantPre: true, wantPost: false},
		{name: "post only", phase: CustomPhasePost, wantPre: false, wantPost: true},
		{name: "both", phase: CustomPhaseBoth, wantPre: true, wantPost: true},
		{name: "empty defaults to pre", phase: "", wantPre: true, wantPost: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := NewCustom("check", tt.phase,
				func(context.Context, *RequestContext) (bool, error) {
					calls++
					return false, nil
				}, "rejected")

			rc := NewRequestContext("alice")
			preResult, err := p.PreExecute(context.Background(), rc)
			require.NoError(t, err)
			postResult, err := p.PostExecute(context.Background(), rc)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPre, !preResult.Allowed)
			assert.Equal(t, tt.wantPost, !postResult.Allowed)
		})
	}
}

func TestCustomDenyReason(t *testing.T) {
	p := NewCustom("check", CustomPhasePre,
		func(context.Context, *RequestContext) (bool, error) { return false, nil }, "")

	result, err := p.PreExecute(context.Background(), NewRequestContext("alice"))
	require.NoError(t, err)
	assert.Equal(t, "Custom policy check failed", result.Reason)
}

func TestCustomReadsContext(t *testing.T) {
	p := NewCustom("admins_only", CustomPhasePre,
		func(_ context.Context, rc *RequestContext) (bool, error) {
			return rc.UserID == "admin", nil
		}, "admins only")

	result, err := p.PreExecute(context.Background(), NewRequestContext("admin"))
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = p.PreExecute(context.Background(), NewRequestContext("alice"))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestCustomPropagatesError(t *testing.T) {
	boom := errors.New("check failed")
	p := NewCustom("check", CustomPhasePre,
		func(context.Context, *RequestContext) (bool, error) { return false, boom }, "")

	_, err := p.PreExecute(context.Background(), NewRequestContext("alice"))
	assert.ErrorIs(t, err, boom)
}

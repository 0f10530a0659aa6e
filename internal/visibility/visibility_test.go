package visibility

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/model"
)

func TestVisible(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	member := uuid.New()
	teamAccess := func(viewer uuid.UUID) bool { return viewer == member }

	cases := []struct {
		name   string
		vis    model.Visibility
		viewer *uuid.UUID
		want   bool
	}{
		{"public visible to anonymous", model.VisibilityPublic, nil, true},
		{"public visible to stranger", model.VisibilityPublic, &other, true},
		{"private hidden from anonymous", model.VisibilityPrivate, nil, false},
		{"private hidden from stranger", model.VisibilityPrivate, &other, false},
		{"private visible to owner", model.VisibilityPrivate, &owner, true},
		{"teams_only hidden from anonymous", model.VisibilityTeamsOnly, nil, false},
		{"teams_only hidden from non-member", model.VisibilityTeamsOnly, &other, false},
		{"teams_only visible to member", model.VisibilityTeamsOnly, &member, true},
		{"teams_only visible to owner", model.VisibilityTeamsOnly, &owner, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Visible(tc.vis, owner, tc.viewer, teamAccess)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestVisible_NilTeamAccessFuncDoesNotPanic(t *testing.T) {
	owner := uuid.New()
	viewer := uuid.New()
	require.False(t, Visible(model.VisibilityTeamsOnly, owner, &viewer, nil))
}

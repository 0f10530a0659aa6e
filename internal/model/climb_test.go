package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyClimb(t *testing.T) {
	cases := []struct {
		name           string
		elevationGainM float64
		averageGrade   float64
		want           *int
	}{
		{"flat ride never a climb", 400, 1.5, nil},
		{"no elevation gain", 0, 8.0, nil},
		{"cat 4", 200, 5.0, intPtr(4)},
		{"cat 2", 500, 7.0, intPtr(2)},
		{"hors categorie", 1200, 8.0, intPtr(ClimbCategoryHC)},
		{"just below easiest band", 100, 5.0, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyClimb(tc.elevationGainM, tc.averageGrade)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func intPtr(v int) *int { return &v }

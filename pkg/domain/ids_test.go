package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dukcapil/pkg/domain-errors"
)

// TestParseNIK_Invariants validates the parsing invariant:
// "a NIK is exactly sixteen ASCII digits"
func TestParseNIK_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "3404011201900001", false},
		{"empty", "", true},
		{"too short", "340401120190000", true},
		{"too long", "34040112019000011", true},
		{"letters", "34040112019000AB", true},
		{"SQL injection attempt", "'; DROP TABLE x;--", true},
		{"null byte", "3404011201900\x0001", true},
		{"full-width digits", strings.Repeat("１", 16), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nik, err := ParseNIK(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, NIK(tt.input), nik)
		})
	}
}

func TestParseContentID(t *testing.T) {
	t.Run("empty maps to empty content id code", func(t *testing.T) {
		_, err := ParseContentID("  ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeEmptyContentID))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := ParseContentID("../etc/passwd")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts opaque id", func(t *testing.T) {
		cid, err := ParseContentID("bafy2bzacea")
		require.NoError(t, err)
		assert.Equal(t, ContentID("bafy2bzacea"), cid)
	})
}

func TestParseNumericIDs(t *testing.T) {
	_, err := ParseApplicationID("0")
	require.Error(t, err)
	_, err = ParseVillageID("-1")
	require.Error(t, err)

	id, err := ParseApplicationID("42")
	require.NoError(t, err)
	assert.Equal(t, "42", id.String())
}

func TestParseActorID_NormalizesCase(t *testing.T) {
	a, err := ParseActorID(" 0xABCdef ")
	require.NoError(t, err)
	assert.Equal(t, ActorID("0xabcdef"), a)
}

func TestCardNumberRegionCode(t *testing.T) {
	assert.Equal(t, "340401", CardNumber("3404012345678901").RegionCode())
	assert.Equal(t, "", CardNumber("12").RegionCode())
}

package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriterion(t *testing.T) {
	var tests = []struct {
		name string
		crit Criterion
	}{
		{"selectByStatus", Criterion{Op: OpSelect, Property: "status"}},
		{"selectByStatusFirst", Criterion{Op: OpSelectFirst, Property: "status"}},
		{"selectByAuthorId", Criterion{Op: OpSelect, Property: "authorId"}},
		{"deleteByCreatedAt", Criterion{Op: OpDelete, Property: "createdAt"}},
		{"countByStatus", Criterion{Op: OpCount, Property: "status"}},
		{"countByPlaceFirst", Criterion{Op: OpCount, Property: "placeFirst"}},
		{"deleteByFirst", Criterion{Op: OpDelete, Property: "first"}},
	}

	for _, tt := range tests {
		// Use t.Run to run each case as a subtest with a descriptive name
		t.Run(tt.name, func(t *testing.T) {
			crit, err := ParseCriterion(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.crit, crit)
		})
	}
}

func TestParseCriterionUnknown(t *testing.T) {
	for _, name := range []string{"", "selectBy", "findByStatus", "SelectByStatus", "updateByStatus", "countStatus"} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCriterion(name)
			assert.True(t, IsUnknownOperation(err), "got %v", err)
		})
	}
}

func TestCriterionName(t *testing.T) {
	for _, name := range []string{"selectByStatus", "selectByAuthorIdFirst", "deleteByCreatedAt", "countByStatus"} {
		crit, err := ParseCriterion(name)
		require.NoError(t, err)
		assert.Equal(t, name, crit.Name())
	}
}

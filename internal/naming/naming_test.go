package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		column   string
		property string
	}{
		{"id", "id"},
		{"status", "status"},
		{"created_at", "createdAt"},
		{"core_count_result", "coreCountResult"},
		{"author_user_id", "authorUserId"},
		{"address2_line", "address2Line"},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.property, ToProperty(tt.column))
			assert.Equal(t, tt.column, ToColumn(tt.property))
		})
	}
}

func TestMethodSuffix(t *testing.T) {
	assert.Equal(t, "CreatedAt", ToMethodSuffix("createdAt"))
	assert.Equal(t, "Status", ToMethodSuffix("status"))
	assert.Equal(t, "createdAt", FromMethodSuffix("CreatedAt"))
	assert.Equal(t, "", FromMethodSuffix(""))
	assert.Equal(t, "", ToProperty(""))
	assert.Equal(t, "", ToColumn(""))
}

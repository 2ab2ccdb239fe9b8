package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ruslan-starovoitov/dbpool"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target dbpool.Target
		want   string
	}{
		{name: "in memory", target: dbpool.Target{}, want: ":memory:"},
		{name: "plain path", target: dbpool.Target{Database: "/var/lib/app.db"}, want: "/var/lib/app.db"},
		{
			name: "params",
			target: dbpool.Target{
				Database: "app.db",
				Params:   map[string]string{"_journal_mode": "WAL", "_busy_timeout": "5000"},
			},
			want: "file:app.db?_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name:   "file uri",
			target: dbpool.Target{Database: "file:app.db", Params: map[string]string{"mode": "ro"}},
			want:   "file:app.db?mode=ro",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DSN(tt.target))
		})
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	assert.Contains(t, dbpool.Drivers(), EngineName)
}

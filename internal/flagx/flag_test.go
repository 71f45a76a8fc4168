package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		valued   []string
		switches []string
		want     []string
	}{
		{
			name:   "short flag with separate value",
			args:   []string{"-c", "conf.json", "-s", "http://localhost"},
			valued: []string{"-c", "-config"},
			want:   []string{"-c", "conf.json"},
		},
		{
			name:   "flag with equals",
			args:   []string{"-config=alt.json", "-s", "http://localhost"},
			valued: []string{"-c", "-config"},
			want:   []string{"-config=alt.json"},
		},
		{
			name:   "unknown flags and positionals ignored",
			args:   []string{"-x", "1", "--y=2", "positional"},
			valued: []string{"-c"},
			want:   []string{},
		},
		{
			name:   "flag without value at end is kept",
			args:   []string{"-c"},
			valued: []string{"-c"},
			want:   []string{"-c"},
		},
		{
			name:   "next dash token is not a value",
			args:   []string{"-c", "-notvalue"},
			valued: []string{"-c"},
			want:   []string{"-c"},
		},
		{
			name:     "switch does not swallow the next token",
			args:     []string{"-init", "store.db", "-d", "store.db"},
			valued:   []string{"-d"},
			switches: []string{"-init"},
			want:     []string{"-init", "-d", "store.db"},
		},
		{
			name:     "switch with explicit value",
			args:     []string{"-init=false", "-q"},
			switches: []string{"-init"},
			want:     []string{"-init=false"},
		},
		{
			name:   "repeated flag preserved in order",
			args:   []string{"-c", "one.json", "-c", "two.json"},
			valued: []string{"-c"},
			want:   []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name:   "empty args",
			args:   []string{},
			valued: []string{"-c"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.valued, tt.switches...)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJsonConfigPath(t *testing.T) {
	t.Run("short -c with value", func(t *testing.T) {
		assert.Equal(t, "/path/short.json", JsonConfigPath([]string{"-c", "/path/short.json"}))
	})

	t.Run("long -config with value", func(t *testing.T) {
		assert.Equal(t, "/path/long.json", JsonConfigPath([]string{"-config", "/path/long.json"}))
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		assert.Empty(t, JsonConfigPath([]string{"-x", "1", "-y", "2"}))
	})

	t.Run("last wins", func(t *testing.T) {
		assert.Equal(t, "/path/2.json", JsonConfigPath([]string{"-c", "/path/1.json", "-config", "/path/2.json"}))
	})
}

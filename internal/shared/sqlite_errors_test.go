package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestSQLiteConflictDetection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy text", errors.New("sqlite: step: SQLITE_BUSY"), true},
		{"locked text", errors.New("database is locked (5)"), true},
		{"wrapped locked", fmt.Errorf("insert turn: %w", errors.New("database is locked")), true},
		{"constraint", errors.New("UNIQUE constraint failed: mistakes.id"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

package production

import (
	"errors"
	"testing"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		raw     string
		limit   int
		want    int
		wantErr bool
	}{
		{"40", 60, 40, false},
		{" 0 ", 60, 0, false},
		{"60", 60, 60, false},
		{"61", 60, 0, true},
		{"-1", 60, 0, true},
		{"abc", 60, 0, true},
		{"", 60, 0, true},
		{"4.5", 60, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseQuantity(tt.raw, tt.limit)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidQuantity) {
				t.Errorf("ParseQuantity(%q, %d) err = %v, want ErrInvalidQuantity", tt.raw, tt.limit, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseQuantity(%q, %d): %v", tt.raw, tt.limit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseQuantity(%q, %d) = %d, want %d", tt.raw, tt.limit, got, tt.want)
		}
	}
}

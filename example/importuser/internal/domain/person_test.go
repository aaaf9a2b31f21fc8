package domain_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/example/importuser/internal/domain"
)

func TestNewPersonRecord_Initial(t *testing.T) {
	tests := []struct {
		lastName string
		want     string
	}{
		{"LEE", "L"},
		{"ÖSTERBERG", "Ö"},
		{"山田", "山"},
		{"", "_"},
		{"\xc3", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			rec := domain.NewPersonRecord(domain.Person{FirstName: "ANN", LastName: tt.lastName})
			assert.Equal(t, tt.want, rec.Initial)
			assert.True(t, utf8.ValidString(rec.Initial))
			assert.Equal(t, tt.lastName, rec.LastName)
		})
	}
}

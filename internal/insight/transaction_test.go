package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_Valid(t *testing.T) {
	body := `{"transactions":[
		{"date":"2025-09-22","label":"Inbound","amount":250000},
		{"date":"2025-09-23T10:15:00Z","label":"Coffee","amount":-4.5}
	]}`

	txns, err := ParseRequest([]byte(body))

	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "Inbound", txns[0].Label)
	assert.Equal(t, "250000", txns[0].Amount.String())
	assert.Equal(t, "-4.5", txns[1].Amount.String())
}

func TestParseRequest_EmptyListIsValid(t *testing.T) {
	txns, err := ParseRequest([]byte(`{"transactions":[]}`))

	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing transactions key", `{"rows":[]}`},
		{"transactions null", `{"transactions":null}`},
		{"string amount", `{"transactions":[{"date":"2025-09-22","label":"Coffee","amount":"fifty"}]}`},
		{"numeric string amount", `{"transactions":[{"date":"2025-09-22","label":"Coffee","amount":"50"}]}`},
		{"missing amount", `{"transactions":[{"date":"2025-09-22","label":"Coffee"}]}`},
		{"missing date", `{"transactions":[{"label":"Coffee","amount":1}]}`},
		{"missing label", `{"transactions":[{"date":"2025-09-22","amount":1}]}`},
		{"empty label", `{"transactions":[{"date":"2025-09-22","label":"","amount":1}]}`},
		{"bad date", `{"transactions":[{"date":"22/09/2025","label":"Coffee","amount":1}]}`},
		{"boolean amount", `{"transactions":[{"date":"2025-09-22","label":"Coffee","amount":true}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, KindValidation, ClassOf(err))
		})
	}
}

func TestParseDate(t *testing.T) {
	_, err := ParseDate("2025-09-22")
	assert.NoError(t, err)

	_, err = ParseDate("2025-09-22T08:30:00+02:00")
	assert.NoError(t, err)

	_, err = ParseDate("September 22nd")
	assert.Error(t, err)
}

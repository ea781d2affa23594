package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCompletion(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"full envelope", `{"model":"m","choices":[{"message":{"role":"assistant","content":"A - B"}}],"usage":{"total_tokens":12}}`, false},
		{"no usage", `{"choices":[{"message":{"content":"A - B"}}]}`, false},
		{"null content", `{"choices":[{"message":{"content":null}}]}`, false},
		{"empty choices", `{"choices":[]}`, true},
		{"missing choices", `{"usage":{"total_tokens":3}}`, true},
		{"missing message", `{"choices":[{"index":0}]}`, true},
		{"negative tokens", `{"choices":[{"message":{"content":"x"}}],"usage":{"total_tokens":-1}}`, true},
		{"string tokens", `{"choices":[{"message":{"content":"x"}}],"usage":{"total_tokens":"5"}}`, true},
		{"not json", `<html>bad gateway</html>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCompletion([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

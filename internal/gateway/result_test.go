package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/storedash/internal/httpclient"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"auth", fmt.Errorf("fetch events: %w", httpclient.ErrAuthRequired), KindAuthRequired},
		{"validation", &httpclient.ValidationError{Detail: "bad"}, KindValidation},
		{"invalid input", fmt.Errorf("%w: empty", ErrInvalidInput), KindValidation},
		{"not found", fmt.Errorf("%w: audit x", ErrNotFound), KindNotFound},
		{"timeout", &httpclient.NetworkError{Kind: httpclient.KindTimeout}, KindTimeout},
		{"status", &httpclient.NetworkError{Kind: httpclient.KindStatus, Status: 500}, KindNetwork},
		{"other", errors.New("boom"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFailMessages(t *testing.T) {
	r := Fail[int](fmt.Errorf("analyze: %w", &httpclient.ValidationError{Detail: "missing ts"}))
	assert.False(t, r.Success)
	assert.Equal(t, "Data format error (422): missing ts", r.Error)

	r = Fail[int](fmt.Errorf("x: %w", httpclient.ErrAuthRequired))
	assert.True(t, r.AuthRequired())
	assert.Equal(t, authFailedMessage, r.Error)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(OK([]string{"a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":["a"]}`, string(data))

	data, err = json.Marshal(Fail[[]string](errors.New("down")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"data":null,"error":"down","kind":"network"}`, string(data))
}

package lcu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFrame(t *testing.T) {
	data, err := json.Marshal(subscribeFrame())
	require.NoError(t, err)
	assert.JSONEq(t, `[5,"OnJsonApiEvent"]`, string(data))
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr error
	}{
		{
			name:  "create",
			frame: `[8,"OnJsonApiEvent",{"uri":"/lol-lobby/v2/lobby","eventType":"Create","data":{"partyId":"p1"}}]`,
			want:  Event{URI: "/lol-lobby/v2/lobby", Type: Create, Data: json.RawMessage(`{"partyId":"p1"}`)},
		},
		{
			name:  "null data",
			frame: `[8,"OnJsonApiEvent",{"uri":"/x","eventType":"Delete","data":null}]`,
			want:  Event{URI: "/x", Type: Delete, Data: json.RawMessage(`null`)},
		},
		{
			name:  "missing data",
			frame: `[8,"OnJsonApiEvent",{"uri":"/x","eventType":"Update"}]`,
			want:  Event{URI: "/x", Type: Update, Data: json.RawMessage(`null`)},
		},
		{
			name:  "array data",
			frame: `[8,"OnJsonApiEvent_lol-lobby",{"uri":"/x","eventType":"UPDATE","data":[1,2]}]`,
			want:  Event{URI: "/x", Type: Update, Data: json.RawMessage(`[1,2]`)},
		},
		{name: "not json", frame: `not json`, wantErr: errMalformedFrame},
		{name: "object", frame: `{"uri":"/x"}`, wantErr: errMalformedFrame},
		{name: "empty array", frame: `[]`, wantErr: errMalformedFrame},
		{name: "string opcode", frame: `["8","OnJsonApiEvent",{}]`, wantErr: errMalformedFrame},
		{name: "other opcode", frame: `[5,"OnJsonApiEvent"]`, wantErr: errNotEvent},
		{name: "missing payload", frame: `[8,"OnJsonApiEvent"]`, wantErr: errMalformedFrame},
		{name: "missing uri", frame: `[8,"OnJsonApiEvent",{"eventType":"Create"}]`, wantErr: errMalformedFrame},
		{name: "missing event type", frame: `[8,"OnJsonApiEvent",{"uri":"/x"}]`, wantErr: errMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.URI, got.URI)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.JSONEq(t, string(tt.want.Data), string(got.Data))
		})
	}
}

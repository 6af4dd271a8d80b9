package keybackend_test

import (
	"testing"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/keybackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapKeyStore_Lookup(t *testing.T) {
	t.Parallel()

	store := keybackend.NewMapKeyStore(map[string]string{
		"tok-1": "deploy-bot",
		"tok-2": "ci",
	})

	tests := []struct {
		name    string
		token   string
		wantID  string
		wantErr bool
	}{
		{name: "first key", token: "tok-1", wantID: "deploy-bot"},
		{name: "second key", token: "tok-2", wantID: "ci"},
		{name: "unknown token", token: "tok-3", wantErr: true},
		{name: "empty token", token: "", wantErr: true},
		{name: "id is not a token", token: "ci", wantErr: true},
		{name: "case sensitive", token: "TOK-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := store.Lookup(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, sitehost.ErrUnauthorized)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestMapKeyStore_Empty(t *testing.T) {
	t.Parallel()

	store := keybackend.NewMapKeyStore(nil)
	assert.Zero(t, store.Len())

	_, err := store.Lookup("anything")
	assert.ErrorIs(t, err, sitehost.ErrUnauthorized)
}

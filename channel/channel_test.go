package channel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelIdentity(t *testing.T) {
	a := New("game", FullAccess)
	b := New("game", Private)
	c := New("other", FullAccess)

	assert.True(t, a.Equals(b), "channels with the same name are the same channel")
	assert.False(t, a.Equals(c))
	assert.False(t, a.Equals(nil))

	var nilCh *Channel
	assert.True(t, nilCh.Equals(nil))
}

func TestChannelDefaults(t *testing.T) {
	ch := New("main", FullAccess, WithFolder("logs/"))

	assert.True(t, ch.Enabled())
	assert.Equal(t, "main.log", ch.Props.Filename())
	assert.Equal(t, "logs", ch.Props.FolderPath())
	assert.Equal(t, filepath.Join("logs", "main.log"), ch.Props.FilePath())
	assert.False(t, ch.Props.FileExists())

	disabled := New("quiet", FullAccess, Disabled(), WithFilename("q.txt"), ShowLogsAware(), GameControlled())
	assert.False(t, disabled.Enabled())
	assert.Equal(t, "q.txt", disabled.Props.Filename())
	assert.True(t, disabled.Props.ShowLogsAware)
	assert.True(t, disabled.GameControlled)
}

func TestCloneSharesRecordNotPath(t *testing.T) {
	ch := New("main", FullAccess, WithFolder("a"))
	ch.Props.SetFileExists(true)
	cl := ch.Clone()

	require.True(t, ch.Equals(cl))
	require.True(t, ch != cl, "clone should be a distinct instance")

	cl.Props.Record.SetCode(8)
	assert.Equal(t, uint8(8), ch.Props.Record.Code(), "handle record should be shared")
	assert.True(t, ch.Props.Rules == cl.Props.Rules, "rule list should be shared")

	ch.Props.SetFolderPath("b")
	assert.Equal(t, "a", cl.Props.FolderPath(), "clone path data should go stale")
	assert.True(t, cl.Props.FileExists())
	assert.False(t, ch.Props.FileExists(), "moving folders should reset file availability")
}

func TestHandleRecord(t *testing.T) {
	var rec HandleRecord
	assert.False(t, rec.Rejected())
	rec.SetCode(3)
	assert.True(t, rec.Rejected())
	rec.Reset()
	assert.False(t, rec.Rejected())
}

func TestParseAccess(t *testing.T) {
	tests := []struct {
		in      string
		want    Access
		wantErr bool
	}{
		{"", FullAccess, false},
		{"Full", FullAccess, false},
		{"private", Private, false},
		{"remote", RemoteAccessOnly, false},
		{"RemoteAccessOnly", RemoteAccessOnly, false},
		{"nope", FullAccess, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccess(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParseAccess(t, got.String()))
		})
	}
}

func mustParseAccess(t *testing.T, s string) Access {
	t.Helper()
	a, err := ParseAccess(s)
	require.NoError(t, err)
	return a
}

func TestParseCategory(t *testing.T) {
	for i := range categoryNames {
		c := Category(i)
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	got, err := ParseCategory("warn")
	require.NoError(t, err)
	assert.Equal(t, Warning, got)

	_, err = ParseCategory("loud")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", Category(200).String())
}

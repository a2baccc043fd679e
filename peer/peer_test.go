package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBotAPIDialogIDPacking(t *testing.T) {
	require.EqualValues(t, 777000, User(777000).BotAPIDialogID())
	require.EqualValues(t, -1001234567890, Channel(1234567890).BotAPIDialogID())
	require.EqualValues(t, -1000, Chat(1000).BotAPIDialogID())
}

func TestKindClassification(t *testing.T) {
	require.Equal(t, KindChannel, From(-1002147483649).Kind())
	require.Equal(t, KindUser, User(42).Kind())
	require.Equal(t, KindChat, Chat(42).Kind())
	require.Equal(t, KindChannel, Channel(42).Kind())
}

func TestBareIDRoundTrip(t *testing.T) {
	require.EqualValues(t, 42, User(42).BareID())
	require.EqualValues(t, 42, Chat(42).BareID())
	require.EqualValues(t, 42, Channel(42).BareID())
}

func TestAuthHasAuthority(t *testing.T) {
	require.False(t, Auth(0).HasAuthority())
	require.True(t, Auth(12345).HasAuthority())
}

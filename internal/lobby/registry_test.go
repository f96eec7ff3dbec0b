package lobby

import (
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Identity{UserID: "u-alice", Username: "alice"}
	bob   = models.Identity{UserID: "u-bob", Username: "bob"}
	carol = models.Identity{UserID: "u-carol", Username: "carol"}
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewRegistry(logger)
}

// startedLobby builds a running lobby with alice on c1 and bob on c2.
func startedLobby(t *testing.T, r *Registry) string {
	t.Helper()
	l := r.Create(alice, CreateOptions{})
	_, _, err := r.Join(l.Code, alice, "c1", false)
	require.NoError(t, err)
	_, _, err = r.Join(l.Code, bob, "c2", false)
	require.NoError(t, err)
	_, err = r.SetReady(l.Code, alice, true)
	require.NoError(t, err)
	_, err = r.SetReady(l.Code, bob, true)
	require.NoError(t, err)
	started, err := r.Start(l.Code, alice)
	require.NoError(t, err)
	require.Equal(t, models.LobbyInProgress, started.Status)
	return l.Code
}

func TestCreateDefaults(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})

	assert.True(t, ValidCode(l.Code))
	assert.Equal(t, DefaultName, l.Name)
	assert.Equal(t, DefaultMode, l.Mode)
	assert.False(t, l.IsPrivate)
	assert.Equal(t, models.LobbyWaiting, l.Status)
	require.Len(t, l.Players, 1)
	slot := l.Players[alice.UserID]
	assert.Equal(t, models.RoleCreator, slot.Role)
	assert.False(t, slot.Ready)
}

func TestCreateJoinReadyStart(t *testing.T) {
	r := newTestRegistry(t)
	code := startedLobby(t, r)

	v, err := r.Get(code, alice)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, v.Status)
	assert.Len(t, v.Players, 2)
	assert.False(t, v.CanStart, "running lobbies cannot be started again")
}

func TestStartRules(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})
	_, _, err := r.Join(l.Code, bob, "c2", false)
	require.NoError(t, err)

	_, err = r.Start(l.Code, bob)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	_, err = r.SetReady(l.Code, alice, true)
	require.NoError(t, err)
	_, err = r.Start(l.Code, alice)
	assert.ErrorIs(t, err, apperr.ErrNotReady, "bob is not ready yet")

	v, err := r.Get(l.Code, alice)
	require.NoError(t, err)
	assert.False(t, v.CanStart)

	_, err = r.SetReady(l.Code, bob, true)
	require.NoError(t, err)
	v, err = r.Get(l.Code, alice)
	require.NoError(t, err)
	assert.True(t, v.CanStart)
	v, err = r.Get(l.Code, bob)
	require.NoError(t, err)
	assert.False(t, v.CanStart, "only the creator sees can_start")

	_, err = r.Start("ZZZZZZ", alice)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetReadyOnlyTouchesOwnSlot(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})

	_, err := r.SetReady(l.Code, carol, true)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	snap, err := r.SetReady(l.Code, alice, true)
	require.NoError(t, err)
	assert.True(t, snap.Players[alice.UserID].Ready)
}

func TestJoinErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.Join("NOPE00", alice, "c1", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	private := r.Create(alice, CreateOptions{Invited: "bob"})
	assert.True(t, private.IsPrivate)
	_, _, err = r.Join(private.Code, carol, "c3", false)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	_, _, err = r.Join(private.Code, carol, "c3", true)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied, "spectating a private lobby needs an invite too")
	_, _, err = r.Join(private.Code, bob, "c2", false)
	assert.NoError(t, err)

	public := r.Create(alice, CreateOptions{})
	_, _, err = r.Join(public.Code, bob, "c2", false)
	require.NoError(t, err)
	_, _, err = r.Join(public.Code, carol, "c3", false)
	assert.ErrorIs(t, err, apperr.ErrSessionFull)

	snap, _, err := r.Join(public.Code, carol, "c3", true)
	require.NoError(t, err)
	assert.Contains(t, snap.Spectators, "c3")
}

func TestJoinReusesSlotAcrossConnections(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})

	_, _, err := r.Join(l.Code, alice, "c1", false)
	require.NoError(t, err)
	snap, _, err := r.Join(l.Code, alice, "c1b", false)
	require.NoError(t, err)

	require.Len(t, snap.Players, 1)
	assert.Len(t, snap.Players[alice.UserID].Conns, 2)

	// dropping one connection keeps the lobby
	changes := r.CleanupConnection("c1")
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Closed)
	assert.Equal(t, 1, r.Len())
}

func TestCodesAreUniqueUnderConcurrentCreates(t *testing.T) {
	r := newTestRegistry(t)
	const n = 200

	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- r.Create(alice, CreateOptions{}).Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, r.Len())
}

func TestCodeGenerationRejectsLiveCodes(t *testing.T) {
	r := newTestRegistry(t)
	// emits AAAAAA, AAAAAA, BBBBBB
	script := []int{0, 0, 1}
	calls := 0
	r.intn = func(int) int {
		v := script[calls/codeLength]
		calls++
		return v
	}

	first := r.Create(alice, CreateOptions{})
	second := r.Create(bob, CreateOptions{})
	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, "BBBBBB", second.Code)
}

func TestCleanupWhileWaitingClosesLobby(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})
	_, _, err := r.Join(l.Code, alice, "c1", false)
	require.NoError(t, err)
	_, _, err = r.Join(l.Code, carol, "spec1", true)
	require.NoError(t, err)

	changes := r.CleanupConnection("c1")
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Closed)
	assert.Equal(t, ReasonNoPlayers, changes[0].Reason)
	assert.Nil(t, changes[0].Lobby)
	assert.Zero(t, r.Len())

	// the spectator's index entry went away with the lobby
	assert.Empty(t, r.CleanupConnection("spec1"))
	assert.Empty(t, r.CleanupConnection("c1"))
}

func TestCleanupWhileRunningSubstitutesBot(t *testing.T) {
	r := newTestRegistry(t)
	code := startedLobby(t, r)

	changes := r.CleanupConnection("c2")
	require.Len(t, changes, 1)
	assert.True(t, changes[0].OpponentLeft)
	assert.False(t, changes[0].BotJoined)

	changes = r.CleanupConnection("c1")
	require.Len(t, changes, 1)
	ch := changes[0]
	assert.False(t, ch.Closed)
	assert.True(t, ch.BotJoined)
	require.NotNil(t, ch.Lobby)
	assert.Equal(t, models.LobbyInProgress, ch.Lobby.Status)
	bot := ch.Lobby.Players[models.BotUserID]
	require.NotNil(t, bot)
	assert.Equal(t, models.PlayerBot, bot.Kind)
	assert.True(t, bot.Ready)

	v, err := r.Get(code, alice)
	require.NoError(t, err)
	assert.Len(t, v.Players, 2, "bots are not serialized")

	// a returning human evicts the bot
	snap, opponentJoined, err := r.Join(code, alice, "c1-again", false)
	require.NoError(t, err)
	assert.False(t, opponentJoined)
	assert.NotContains(t, snap.Players, models.BotUserID)

	snap, opponentJoined, err = r.Join(code, bob, "c2-again", false)
	require.NoError(t, err)
	assert.True(t, opponentJoined)
	assert.True(t, snap.Players[bob.UserID].Ready, "ready flags survive joins while running")
}

func TestFullRunningLobbyKeepsBotOnRejectedJoin(t *testing.T) {
	r := newTestRegistry(t)
	code := startedLobby(t, r)
	r.CleanupConnection("c1")
	r.CleanupConnection("c2")

	_, _, err := r.Join(code, carol, "c3", false)
	assert.ErrorIs(t, err, apperr.ErrSessionFull)

	v, err := r.Get(code, alice)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, v.Status)
}

func TestLeaveDetachesSingleLobby(t *testing.T) {
	r := newTestRegistry(t)
	a := r.Create(alice, CreateOptions{})
	b := r.Create(alice, CreateOptions{})
	_, _, err := r.Join(a.Code, alice, "c1", false)
	require.NoError(t, err)
	_, _, err = r.Join(b.Code, alice, "c1", false)
	require.NoError(t, err)

	ch, ok := r.Leave(a.Code, "c1")
	require.True(t, ok)
	assert.True(t, ch.Closed)

	_, ok = r.Leave(a.Code, "c1")
	assert.False(t, ok)

	_, err = r.Get(b.Code, alice)
	assert.NoError(t, err)
}

func TestRematchHandshake(t *testing.T) {
	r := newTestRegistry(t)
	code := startedLobby(t, r)

	_, err := r.RequestRematch(code, carol)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	_, err = r.RequestRematch(code, bob)
	require.NoError(t, err)

	snap, err := r.AnswerRematch(code, alice, false)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, snap.Status)

	snap, err = r.AnswerRematch(code, alice, true)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyWaiting, snap.Status)
	for _, p := range snap.Players {
		assert.False(t, p.Ready)
	}
}

func TestSweepIdle(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	abandoned := r.Create(alice, CreateOptions{})
	active := r.Create(bob, CreateOptions{})
	_, _, err := r.Join(active.Code, bob, "c2", false)
	require.NoError(t, err)

	assert.Empty(t, r.SweepIdle(base.Add(time.Hour), 0))
	assert.Empty(t, r.SweepIdle(base.Add(10*time.Minute), 30*time.Minute))

	changes := r.SweepIdle(base.Add(31*time.Minute), 30*time.Minute)
	require.Len(t, changes, 1)
	assert.Equal(t, abandoned.Code, changes[0].Code)
	assert.Equal(t, ReasonIdle, changes[0].Reason)
	assert.Equal(t, 1, r.Len())
}

func TestListVisibility(t *testing.T) {
	r := newTestRegistry(t)
	r.Create(alice, CreateOptions{Name: "open"})
	r.Create(alice, CreateOptions{Name: "secret", Invited: "bob"})

	assert.Len(t, r.List(alice), 2)
	assert.Len(t, r.List(bob), 2)
	only := r.List(carol)
	require.Len(t, only, 1)
	assert.Equal(t, "open", only[0].GameName)

	for _, v := range r.List(alice) {
		if v.GameName == "secret" {
			_, err := r.Get(v.Code, carol)
			assert.ErrorIs(t, err, apperr.ErrAccessDenied)
			assert.Equal(t, "bob", v.InvitedUsername)
		}
	}
}

func TestViewMarksSelf(t *testing.T) {
	r := newTestRegistry(t)
	l := r.Create(alice, CreateOptions{})
	_, _, err := r.Join(l.Code, bob, "c2", false)
	require.NoError(t, err)

	v, err := r.Get(l.Code, bob)
	require.NoError(t, err)
	require.Len(t, v.Players, 2)
	assert.Equal(t, alice.UserID, v.Players[0].UserID, "creator listed first")
	assert.False(t, v.Players[0].IsSelf)
	assert.True(t, v.Players[1].IsSelf)
	assert.NotEmpty(t, v.CreatedAt)
}

package journal

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"flashvault/core/events"
	"flashvault/core/types"
	"flashvault/crypto"
)

func openJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	return j
}

func TestAppendAndReadBack(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	var seen []uint64
	j.OnAppend(func(r Record) { seen = append(seen, r.Index) })

	j.Emit(events.Deposited{Depositor: crypto.DeriveAddress("alice"), Amount: big.NewInt(10)})
	rec, err := j.Append(&types.Event{Type: "custom", Attributes: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.Index)
	require.Equal(t, []uint64{1, 2}, seen)

	all, err := j.After(0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.TypeDeposited, all[0].Type)
	require.Equal(t, "10", all[0].Attributes["amount"])
	require.NotEmpty(t, all[0].Digest)

	tail, err := j.After(1, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "v", tail[0].Event().Attribute("k"))

	limited, err := j.After(0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir)
	for i := 0; i < 3; i++ {
		_, err := j.Append(&types.Event{Type: "tick", Attributes: map[string]string{"i": string(rune('a' + i))}})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	reopened := openJournal(t, dir)
	defer reopened.Close()
	require.Equal(t, uint64(3), reopened.CurrentIndex())
	recs, err := reopened.After(2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "c", recs[0].Attributes["i"])
}

func TestDigestIsStableAndDetectsTampering(t *testing.T) {
	ev := &types.Event{Type: "t", Attributes: map[string]string{"b": "2", "a": "1"}}
	d1, err := Digest(ev)
	require.NoError(t, err)
	d2, err := Digest(&types.Event{Type: "t", Attributes: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	_, err = decode(1, []byte(`{"type":"t","attributes":{"a":"1","b":"3"},"digest":"`+d1+`"}`))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestClosedJournalRejectsWrites(t *testing.T) {
	j := openJournal(t, t.TempDir())
	require.NoError(t, j.Close())
	_, err := j.Append(&types.Event{Type: "t"})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, j.Close())
}

func TestEmitAfterCloseIsCounted(t *testing.T) {
	j := openJournal(t, t.TempDir())
	var failedTypes []string
	var lastErr error
	j.OnAppendError(func(eventType string, err error) {
		failedTypes = append(failedTypes, eventType)
		lastErr = err
	})
	j.Emit(events.Deposited{Depositor: crypto.DeriveAddress("alice"), Amount: big.NewInt(1)})
	require.Zero(t, j.Failures())

	require.NoError(t, j.Close())
	j.Emit(events.Deposited{Depositor: crypto.DeriveAddress("alice"), Amount: big.NewInt(2)})
	require.Equal(t, uint64(1), j.Failures())
	require.Equal(t, []string{events.TypeDeposited}, failedTypes)
	require.True(t, errors.Is(lastErr, ErrClosed))
}

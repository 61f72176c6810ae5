package layout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore(NewMemRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, SeatLayout{
		Name:   "Reading Room",
		Width:  800,
		Height: 600,
		Groups: []Group{{ID: "G1", Name: "Window row", Rows: 1, Cols: 4}},
		Seats: []Seat{
			{ID: "A1", GroupID: "G1", Row: 0, Col: 0, Label: "A1"},
			{ID: "A2", GroupID: "G1", Row: 0, Col: 1, Label: "A2"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reading Room", got.Name)
	assert.Len(t, got.Seats, 2)
}

func TestCreateRequiresName(t *testing.T) {
	s := NewStore(NewMemRepository())

	_, err := s.Create(context.Background(), SeatLayout{})
	assert.Error(t, err)
}

func TestGetUnknown(t *testing.T) {
	s := NewStore(NewMemRepository())

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeatInLayout(t *testing.T) {
	s := NewStore(NewMemRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, SeatLayout{
		Name:  "Reading Room",
		Seats: []Seat{{ID: "A1", Label: "A1"}},
	})
	require.NoError(t, err)

	seat, err := s.SeatInLayout(ctx, created.ID, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", seat.Label)

	_, err = s.SeatInLayout(ctx, created.ID, "Z9")
	assert.ErrorIs(t, err, ErrSeatNotFound)
}

func TestList(t *testing.T) {
	s := NewStore(NewMemRepository())
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three"} {
		_, err := s.Create(ctx, SeatLayout{Name: name})
		require.NoError(t, err)
	}
	layouts, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, layouts, 3)
}

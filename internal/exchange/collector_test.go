package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicli/internal/browser/browsertest"
	"replicli/internal/domain"
)

func newTestCollector(d domain.Driver) *Collector {
	return NewCollector(CollectorConfig{
		Driver:     d,
		Locators:   testLocators(),
		ImageProbe: time.Second,
		Logger:     testLogger(),
	})
}

func TestCollectLatest_LastCompanionRowWins(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, companionRow("old"), userRow("question"), companionRow("  new  "), userRow("another"))

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.ReplyText, got.Kind)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, 2, got.Position)
}

func TestCollectLatest_EmptyLastRowFallsThroughToImage(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, companionRow("earlier text"), companionRow(""))
	d.Set(locImage, image("https://img/a.png"), image(" https://img/x.png "))

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.ReplyImage, got.Kind)
	assert.Equal(t, "https://img/x.png", got.Content)
}

func TestCollectLatest_EmptyLastRowWithoutImageIsNone(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, companionRow("earlier text"), companionRow(""))

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.ReplyNone, got.Kind)
	assert.True(t, d.WaitedFor(locImage))
}

func TestCollectLatest_NoRows(t *testing.T) {
	d := newFakeDriver()

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.ReplyNone, got.Kind)
	assert.Equal(t, -1, got.Position)
}

func TestCollectLatest_ImageWithoutSource(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, userRow("hi"))
	d.Set(locImage, button())

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.ReplyNone, got.Kind)
}

func TestCollectLatest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCollector(newFakeDriver()).CollectLatest(ctx, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectLatest_MissingLocator(t *testing.T) {
	locs := testLocators()
	delete(locs, domain.RoleReplyRow)
	c := NewCollector(CollectorConfig{Driver: newFakeDriver(), Locators: locs, Logger: testLogger()})

	_, err := c.CollectLatest(context.Background(), time.Second)

	assert.Error(t, err)
}

func TestSnapshot_ClassifiesRows(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, userRow("hello"), companionRow("hi"), companionRow(""))

	rows, err := newTestCollector(d).Snapshot(context.Background())

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.AuthorUser, rows[0].Author)
	assert.Equal(t, domain.ReplyNone, rows[0].Kind)
	assert.Equal(t, domain.AuthorCompanion, rows[1].Author)
	assert.Equal(t, "hi", rows[1].Content)
	assert.Equal(t, domain.AuthorCompanion, rows[2].Author)
	assert.Equal(t, domain.ReplyNone, rows[2].Kind)
	for i, r := range rows {
		assert.Equal(t, i, r.Position)
	}
}

func TestCollectLatest_ReadsOnlyTheLastCompanionRow(t *testing.T) {
	older := &browsertest.Element{Content: "old"}
	latest := &browsertest.Element{Content: "new"}
	row := func(text *browsertest.Element) domain.Element {
		return &browsertest.Element{Children: map[domain.Locator][]domain.Element{
			locMarker: {&browsertest.Element{}},
			locText:   {text},
		}}
	}
	d := newFakeDriver()
	d.Set(locRow, row(older), userRow("question"), row(latest), userRow("another"))

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, 1, latest.Reads())
	assert.Zero(t, older.Reads(), "rows before the last companion row must not be read")
}

func TestCollectLatest_MarkerLookupFailureIsAnError(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, companionRow("hi"), &browsertest.Element{FindErr: errBoom})

	got, err := newTestCollector(d).CollectLatest(context.Background(), time.Second)

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, domain.ReplyNone, got.Kind)
	assert.False(t, d.WaitedFor(locImage))
}

func TestSnapshot_MarkerLookupFailureIsAnError(t *testing.T) {
	d := newFakeDriver()
	d.Set(locRow, userRow("hello"), &browsertest.Element{FindErr: errBoom})

	_, err := newTestCollector(d).Snapshot(context.Background())

	assert.ErrorIs(t, err, errBoom)
}

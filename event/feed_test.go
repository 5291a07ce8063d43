package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedSubscribeSend(t *testing.T) {
	var feed Feed
	ch := make(chan int)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	go func() { feed.Send(42) }()
	require.Equal(t, 42, <-ch)
}

func TestFeedUnsubscribeStopsDelivery(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	require.Zero(t, feed.Send(1), "expected 0 subscribers after unsubscribe")
}

func TestFeedMultipleSubscribers(t *testing.T) {
	var feed Feed
	const n = 3
	chs := make([]chan int, n)
	for i := range chs {
		chs[i] = make(chan int, 1)
		feed.Subscribe(chs[i])
	}
	require.Equal(t, n, feed.Send(7))
	for _, ch := range chs {
		require.Equal(t, 7, <-ch)
	}
}

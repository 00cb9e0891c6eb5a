package sendlogs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"queued":         StatusSent,
		"SENDING":        StatusSent,
		"sent":           StatusSent,
		" Delivered ":    StatusDelivered,
		"read":           StatusRead,
		"failed":         StatusFailed,
		"UNDELIVERED":    StatusFailed,
		"accepted":       Status("accepted"),
		"Partially_Sent": Status("partially_sent"),
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapProviderStatus(raw), raw)
	}
}

func TestCanTransitionFollowsLifecycle(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusSent},
		{StatusPending, StatusFailed},
		{StatusSent, StatusDelivered},
		{StatusSent, StatusFailed},
		{StatusDelivered, StatusRead},
		{StatusDelivered, StatusDelivered},
		{StatusSent, "accepted"},
		{"accepted", StatusSent},
		{"accepted", StatusDelivered},
		{"accepted", StatusFailed},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]Status{
		{StatusDelivered, StatusSent},
		{StatusRead, StatusDelivered},
		{StatusSent, StatusRead},
		{StatusPending, StatusDelivered},
		{StatusDelivered, StatusFailed},
		{StatusFailed, StatusSent},
		{StatusFailed, StatusDelivered},
		{StatusDeleted, StatusDeleted},
		{StatusDeleted, StatusRead},
		{StatusSent, StatusPending},
		{StatusSent, StatusDeleted},
		{StatusDelivered, "accepted"},
		{StatusSent, ""},
	}
	for _, tr := range rejected {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

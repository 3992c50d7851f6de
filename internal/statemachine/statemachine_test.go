package statemachine

import (
	"testing"

	"github.com/incidenthub/incidenthub/internal/store"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{store.StatusInvestigating, store.StatusIdentified, true},
		{store.StatusInvestigating, store.StatusMonitoring, true},
		{store.StatusInvestigating, store.StatusResolved, true},
		{store.StatusInvestigating, store.StatusInvestigating, false},
		{store.StatusIdentified, store.StatusInvestigating, true},
		{store.StatusMonitoring, store.StatusIdentified, true},
		{store.StatusResolved, store.StatusInvestigating, true},
		{store.StatusResolved, store.StatusMonitoring, false},
		{store.StatusResolved, store.StatusIdentified, false},
		{store.StatusResolved, store.StatusResolved, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{store.StatusInvestigating, store.StatusIdentified, store.StatusMonitoring, store.StatusResolved} {
		if !IsValidStatus(s) {
			t.Errorf("IsValidStatus(%s) = false, want true", s)
		}
	}
	if IsValidStatus("bogus") {
		t.Error("IsValidStatus(bogus) = true, want false")
	}
}

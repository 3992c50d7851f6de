package policy

import (
	"testing"

	"github.com/incidenthub/incidenthub/internal/store"
)

func TestAllow(t *testing.T) {
	writeActions := []Action{ActionIncidentCreate, ActionIncidentUpdate, ActionIncidentAssign, ActionIncidentNote, ActionIncidentActionItem}

	for _, a := range writeActions {
		if !Allow(store.RoleAdmin, a) {
			t.Errorf("admin should be allowed %s", a)
		}
		if !Allow(store.RoleResponder, a) {
			t.Errorf("responder should be allowed %s", a)
		}
		if Allow(store.RoleViewer, a) {
			t.Errorf("viewer should not be allowed %s", a)
		}
	}

	if !Allow(store.RoleAdmin, ActionUserManage) {
		t.Error("admin should be allowed user.manage")
	}
	if Allow(store.RoleResponder, ActionUserManage) {
		t.Error("responder should not be allowed user.manage")
	}

	for _, r := range []string{store.RoleAdmin, store.RoleResponder, store.RoleViewer} {
		if !Allow(r, ActionRead) {
			t.Errorf("%s should be allowed to read", r)
		}
	}
}

package workflow

import (
	"github.com/sunflower/clinic/internal/domain/encounter"
)

// Action names a workflow transition.
type Action string

const (
	ActionCheckIn           Action = "check_in"
	ActionConfirm           Action = "confirm"
	ActionSubmitScreening   Action = "submit_screening"
	ActionOrderLab          Action = "order_lab"
	ActionPrescribeDirectly Action = "prescribe_directly"
	ActionReturnToScreening Action = "return_to_screening"
	ActionSubmitLab         Action = "submit_lab"
	ActionCancel            Action = "cancel"
	ActionStart             Action = "start"
	ActionRelease           Action = "release"
)

// Actions lists every action in the order they are documented.
var Actions = []Action{
	ActionCheckIn,
	ActionConfirm,
	ActionSubmitScreening,
	ActionOrderLab,
	ActionPrescribeDirectly,
	ActionReturnToScreening,
	ActionSubmitLab,
	ActionCancel,
	ActionStart,
	ActionRelease,
}

func (a Action) Valid() bool {
	_, ok := actionRoles[a]
	return ok
}

// requirement is the record a transition needs before it may fire.
type requirement int

const (
	needsNothing requirement = iota
	needsScreening
	needsLab
	// needsDoctorRecord is doctor_review, or health_check on health-check visits.
	needsDoctorRecord
)

func (r requirement) kind(enc *encounter.Encounter) (encounter.RecordKind, bool) {
	switch r {
	case needsScreening:
		return encounter.RecordScreening, true
	case needsLab:
		return encounter.RecordLab, true
	case needsDoctorRecord:
		return encounter.DoctorRecordKind(enc.VisitType), true
	default:
		return "", false
	}
}

// rule is one row of the station transition table. from is matched against
// the encounter's stage, so a row also fires while its station holds the
// encounter in_progress.
type rule struct {
	from     encounter.Status
	action   Action
	requires requirement
	// fresh demands the record was written since the encounter last entered
	// the from stage.
	fresh bool
	to    encounter.Status
}

var stationRules = []rule{
	{encounter.StatusWaitingNurseScreening, ActionSubmitScreening, needsScreening, true, encounter.StatusWaitingDoctorReview},
	{encounter.StatusWaitingDoctorReview, ActionOrderLab, needsDoctorRecord, false, encounter.StatusWaitingLabProcessing},
	{encounter.StatusWaitingDoctorReview, ActionPrescribeDirectly, needsDoctorRecord, false, encounter.StatusCompleted},
	{encounter.StatusWaitingDoctorReview, ActionReturnToScreening, needsNothing, false, encounter.StatusWaitingNurseScreening},
	{encounter.StatusWaitingLabProcessing, ActionSubmitLab, needsLab, true, encounter.StatusWaitingDoctorReview},
}

// actionRoles are the roles that may ever perform an action, whatever the
// encounter's state.
var actionRoles = map[Action][]encounter.Role{
	ActionCheckIn:           {encounter.RoleReception},
	ActionConfirm:           {encounter.RoleReception},
	ActionSubmitScreening:   {encounter.RoleNurse},
	ActionOrderLab:          {encounter.RoleDoctor},
	ActionPrescribeDirectly: {encounter.RoleDoctor},
	ActionReturnToScreening: {encounter.RoleDoctor},
	ActionSubmitLab:         {encounter.RoleLabTechnician},
	ActionCancel:            {encounter.RoleReception, encounter.RoleDoctor},
	ActionStart:             {encounter.RoleNurse, encounter.RoleDoctor, encounter.RoleLabTechnician},
	ActionRelease:           {encounter.RoleNurse, encounter.RoleDoctor, encounter.RoleLabTechnician},
}

// RolesFor returns the roles allowed to perform a, in preference order.
func RolesFor(a Action) []encounter.Role {
	return actionRoles[a]
}

// PreferredRoles orders RolesFor(a) for enc. Start and release belong to
// whichever station owns the encounter's stage, so that station's role goes
// first.
func PreferredRoles(a Action, enc *encounter.Encounter) []encounter.Role {
	roles := RolesFor(a)
	if (a != ActionStart && a != ActionRelease) || enc == nil {
		return roles
	}
	st, ok := encounter.StationForStatus(enc.Stage())
	if !ok {
		return roles
	}
	owner := st.Role()
	out := make([]encounter.Role, 0, len(roles))
	for _, r := range roles {
		if r == owner {
			out = append([]encounter.Role{r}, out...)
			continue
		}
		out = append(out, r)
	}
	return out
}

func roleAllowed(a Action, r encounter.Role) bool {
	for _, allowed := range actionRoles[a] {
		if allowed == r {
			return true
		}
	}
	return false
}

// step is a resolved transition: where the encounter goes and what it needs.
type step struct {
	to       encounter.Status
	heldBy   *encounter.Station
	requires requirement
	fresh    bool
	// owner is the station whose role must perform the step. Empty for cancel,
	// which has its own capability check.
	owner encounter.Station
}

// lookup resolves action against enc's current state. ok is false when the
// pair is not in the table.
func lookup(enc *encounter.Encounter, action Action) (step, bool) {
	if enc.Status.Terminal() {
		return step{}, false
	}
	switch action {
	case ActionCheckIn:
		if enc.Status == encounter.StatusPending || enc.Status == encounter.StatusConfirmed {
			return step{to: encounter.StatusWaitingNurseScreening, owner: encounter.StationReception}, true
		}
	case ActionConfirm:
		if enc.Status == encounter.StatusPending {
			return step{to: encounter.StatusConfirmed, owner: encounter.StationReception}, true
		}
	case ActionCancel:
		return step{to: encounter.StatusCancelled}, true
	case ActionStart:
		st, ok := encounter.StationForStatus(enc.Status)
		if ok && st.CanHold() {
			return step{to: encounter.StatusInProgress, heldBy: &st, owner: st}, true
		}
	case ActionRelease:
		if enc.Status == encounter.StatusInProgress && enc.HeldBy != nil {
			return step{to: enc.HeldBy.WaitingStatus(), owner: *enc.HeldBy}, true
		}
	default:
		stage := enc.Stage()
		for _, r := range stationRules {
			if r.from == stage && r.action == action {
				owner, _ := encounter.StationForStatus(stage)
				return step{to: r.to, requires: r.requires, fresh: r.fresh, owner: owner}, true
			}
		}
	}
	return step{}, false
}

// Available lists the actions that can fire from enc's current state,
// ignoring who performs them and which records exist.
func Available(enc *encounter.Encounter) []Action {
	var out []Action
	for _, a := range Actions {
		if _, ok := lookup(enc, a); ok {
			out = append(out, a)
		}
	}
	return out
}

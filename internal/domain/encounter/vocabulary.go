package encounter

import "strings"

// Role is a staff role as resolved by authentication.
type Role string

const (
	RoleReception     Role = "reception"
	RoleNurse         Role = "nurse"
	RoleDoctor        Role = "doctor"
	RoleLabTechnician Role = "lab_technician"
)

// Station is a role-scoped stage of the workflow.
type Station string

const (
	StationReception Station = "reception"
	StationScreening Station = "screening"
	StationDoctor    Station = "doctor"
	StationLab       Station = "lab"
)

// Stations lists every station in workflow order.
var Stations = []Station{StationReception, StationScreening, StationDoctor, StationLab}

// RecordKind is the type of clinical record a station writes.
type RecordKind string

const (
	RecordScreening    RecordKind = "screening"
	RecordLab          RecordKind = "lab"
	RecordDoctorReview RecordKind = "doctor_review"
	RecordHealthCheck  RecordKind = "health_check"
)

// RecordKinds lists every record kind.
var RecordKinds = []RecordKind{RecordScreening, RecordLab, RecordDoctorReview, RecordHealthCheck}

var stationRoles = map[Station]Role{
	StationReception: RoleReception,
	StationScreening: RoleNurse,
	StationDoctor:    RoleDoctor,
	StationLab:       RoleLabTechnician,
}

var stationWaiting = map[Station]Status{
	StationScreening: StatusWaitingNurseScreening,
	StationDoctor:    StatusWaitingDoctorReview,
	StationLab:       StatusWaitingLabProcessing,
}

var statusStations = map[Status]Station{
	StatusPending:               StationReception,
	StatusConfirmed:             StationReception,
	StatusWaitingNurseScreening: StationScreening,
	StatusWaitingDoctorReview:   StationDoctor,
	StatusWaitingLabProcessing:  StationLab,
}

var recordStations = map[RecordKind]Station{
	RecordScreening:    StationScreening,
	RecordLab:          StationLab,
	RecordDoctorReview: StationDoctor,
	RecordHealthCheck:  StationDoctor,
}

// Aliases accepted when a client names a station by its role or status.
var stationAliases = map[string]Station{
	"nurse":                   StationScreening,
	"nurse_screening":         StationScreening,
	"physician":               StationDoctor,
	"doctor_review":           StationDoctor,
	"lab_technician":          StationLab,
	"lab_processing":          StationLab,
	"waiting_nurse_screening": StationScreening,
	"waiting_doctor_review":   StationDoctor,
	"waiting_lab_processing":  StationLab,
}

// ParseStation resolves a station name or one of its aliases.
func ParseStation(s string) (Station, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	st := Station(s)
	if _, ok := stationRoles[st]; ok {
		return st, true
	}
	st, ok := stationAliases[s]
	return st, ok
}

// Role returns the role that operates the station.
func (s Station) Role() Role {
	return stationRoles[s]
}

// WaitingStatus returns the status a patient holds while queued at s. The
// reception station has none.
func (s Station) WaitingStatus() Status {
	return stationWaiting[s]
}

// OwnedStatuses lists the statuses that put an encounter in s's queue.
func (s Station) OwnedStatuses() []Status {
	var out []Status
	for _, st := range Statuses {
		if statusStations[st] == s {
			out = append(out, st)
		}
	}
	return out
}

// CanHold reports whether the station may mark a patient in_progress.
func (s Station) CanHold() bool {
	_, ok := stationWaiting[s]
	return ok
}

// StationForStatus returns the station owning status, if any.
func StationForStatus(status Status) (Station, bool) {
	st, ok := statusStations[status]
	return st, ok
}

func (k RecordKind) Valid() bool {
	_, ok := recordStations[k]
	return ok
}

// Station returns the station that writes records of kind k.
func (k RecordKind) Station() Station {
	return recordStations[k]
}

// DoctorRecordKind returns the record the doctor station produces for the
// visit type.
func DoctorRecordKind(v VisitType) RecordKind {
	if v == VisitHealthCheck {
		return RecordHealthCheck
	}
	return RecordDoctorReview
}

// ParseRole maps a role claim to a workflow role. Unknown roles map to "".
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleReception, RoleNurse, RoleDoctor, RoleLabTechnician:
		return r
	case "physician":
		return RoleDoctor
	case "receptionist", "registrar":
		return RoleReception
	case "lab", "lab_tech":
		return RoleLabTechnician
	default:
		return ""
	}
}

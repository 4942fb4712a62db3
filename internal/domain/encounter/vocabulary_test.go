package encounter

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseStation(t *testing.T) {
	tests := []struct {
		in   string
		want Station
		ok   bool
	}{
		{"screening", StationScreening, true},
		{" Doctor ", StationDoctor, true},
		{"nurse", StationScreening, true},
		{"lab_technician", StationLab, true},
		{"waiting_lab_processing", StationLab, true},
		{"reception", StationReception, true},
		{"pharmacy", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStation(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStation(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStationVocabulary(t *testing.T) {
	if StationScreening.Role() != RoleNurse {
		t.Errorf("screening should be operated by nurse")
	}
	if StationLab.WaitingStatus() != StatusWaitingLabProcessing {
		t.Errorf("unexpected lab waiting status %q", StationLab.WaitingStatus())
	}
	if StationReception.CanHold() {
		t.Error("reception cannot hold a patient")
	}
	owned := StationReception.OwnedStatuses()
	if len(owned) != 2 || owned[0] != StatusPending || owned[1] != StatusConfirmed {
		t.Errorf("unexpected reception statuses %v", owned)
	}
	if _, ok := StationForStatus(StatusCompleted); ok {
		t.Error("completed belongs to no station")
	}
	for _, k := range RecordKinds {
		if !k.Station().CanHold() {
			t.Errorf("record kind %s maps to a non-clinical station", k)
		}
	}
}

func TestDoctorRecordKind(t *testing.T) {
	if DoctorRecordKind(VisitConsultation) != RecordDoctorReview {
		t.Error("consultation should require doctor_review")
	}
	if DoctorRecordKind(VisitHealthCheck) != RecordHealthCheck {
		t.Error("health check should require health_check")
	}
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"nurse":        RoleNurse,
		"Physician":    RoleDoctor,
		"receptionist": RoleReception,
		"lab_tech":     RoleLabTechnician,
		"admin":        "",
		"":             "",
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncounterStage(t *testing.T) {
	lab := StationLab
	e := &Encounter{Status: StatusInProgress, HeldBy: &lab}
	if e.Stage() != StatusWaitingLabProcessing {
		t.Errorf("expected held encounter to be at lab stage, got %s", e.Stage())
	}
	if st, ok := e.Station(); !ok || st != StationLab {
		t.Errorf("expected lab station, got %s", st)
	}

	e = &Encounter{Status: StatusCancelled}
	if _, ok := e.Station(); ok {
		t.Error("cancelled encounter has no station")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusCompleted || s == StatusCancelled
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("discharged").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestClone(t *testing.T) {
	id := uuid.New()
	e := &Encounter{Status: StatusWaitingDoctorReview, StationRecords: map[RecordKind]uuid.UUID{RecordScreening: id}}
	c := e.Clone()
	c.Status = StatusCompleted
	c.StationRecords[RecordDoctorReview] = uuid.New()

	if e.Status != StatusWaitingDoctorReview {
		t.Error("clone shares status with original")
	}
	if len(e.StationRecords) != 1 || e.StationRecords[RecordScreening] != id {
		t.Error("clone shares station records with original")
	}
}

func TestETag(t *testing.T) {
	if ETag(5) != `W/"5"` {
		t.Errorf("unexpected etag %s", ETag(5))
	}
	for in, want := range map[string]int{`W/"5"`: 5, `"7"`: 7, "3": 3} {
		if got, ok := ParseETag(in); !ok || got != want {
			t.Errorf("ParseETag(%q) = %d, %v", in, got, ok)
		}
	}
	for _, in := range []string{"", `W/"x"`, `"0"`, "*"} {
		if _, ok := ParseETag(in); ok {
			t.Errorf("ParseETag(%q) should fail", in)
		}
	}
}

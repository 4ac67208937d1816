package models

import (
	"fmt"
	"strconv"
)

// Status is the lifecycle state of an application. The numeric values are
// part of the wire format and must not be renumbered.
type Status uint8

const (
	StatusSubmitted                    Status = 0
	StatusApprovedByVillage            Status = 1
	StatusRejectedByVillage            Status = 2
	StatusApprovedByRegistry           Status = 3
	StatusRejectedByRegistry           Status = 4
	StatusApprovedByOriginVillage      Status = 5
	StatusRejectedByOriginVillage      Status = 6
	StatusApprovedByDestVillage        Status = 7
	StatusRejectedByDestVillage        Status = 8
	StatusCancelledByApplicant         Status = 9
	StatusAwaitingDestHeadConfirmation Status = 10
	StatusConfirmedByDestHead          Status = 11
	StatusRejectedByDestHead           Status = 12
)

var statusNames = [...]string{
	"submitted",
	"approved_by_village",
	"rejected_by_village",
	"approved_by_registry",
	"rejected_by_registry",
	"approved_by_origin_village",
	"rejected_by_origin_village",
	"approved_by_dest_village",
	"rejected_by_dest_village",
	"cancelled_by_applicant",
	"awaiting_dest_head_confirmation",
	"confirmed_by_dest_head",
	"rejected_by_dest_head",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool { return int(s) < len(statusNames) }

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejectedByVillage, StatusApprovedByRegistry, StatusRejectedByRegistry,
		StatusRejectedByOriginVillage, StatusRejectedByDestVillage, StatusCancelledByApplicant,
		StatusRejectedByDestHead:
		return true
	}
	return false
}

// ParseStatus accepts either the numeric code or the snake_case name.
func ParseStatus(v string) (Status, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n >= 0 && n < len(statusNames) {
			return Status(n), nil
		}
		return 0, fmt.Errorf("unknown status %d", n)
	}
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

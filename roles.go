package dtrsign

import (
	"fmt"
	"strings"

	"dtrsign/pdf/generic"
)

// Role identifies who is signing the document. The role determines the
// signature field name and where the stamps land.
type Role int

const (
	// RoleOwner is the employee the record belongs to.
	RoleOwner Role = iota
	// RoleInCharge is the supervisor countersigning a time record.
	RoleInCharge
	// RoleHead approves leave applications for the department.
	RoleHead
	// RoleSao is the supervising administrative officer.
	RoleSao
	// RoleCao is the chief administrative officer.
	RoleCao
)

// String returns the role's lowercase name.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleInCharge:
		return "incharge"
	case RoleHead:
		return "head"
	case RoleSao:
		return "sao"
	case RoleCao:
		return "cao"
	}
	return "unknown"
}

// ParseRole resolves a role name. It accepts the String form of each
// role plus the "in-charge" spelling.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "owner":
		return RoleOwner, nil
	case "incharge", "in-charge":
		return RoleInCharge, nil
	case "head":
		return RoleHead, nil
	case "sao":
		return RoleSao, nil
	case "cao":
		return RoleCao, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrRequest, s)
}

// DocType selects the document layout being signed.
type DocType int

const (
	// DocTimeRecord is a daily time record: two stamps per role near
	// the bottom of the page, or per-day grid cells in whole-month
	// mode.
	DocTimeRecord DocType = iota
	// DocLeaveApplication is a leave application form: one stamp per
	// role at a fixed position.
	DocLeaveApplication
)

// String returns the document type name.
func (t DocType) String() string {
	switch t {
	case DocTimeRecord:
		return "time-record"
	case DocLeaveApplication:
		return "leave-application"
	}
	return "unknown"
}

// RolePlacement is the stamp layout for one role on one document type.
type RolePlacement struct {
	// FieldName is the signature form field the role signs.
	FieldName string
	// Rects are the widget rectangles, in page coordinates before any
	// adjustment.
	Rects []generic.Rect
	// AdjustY shifts the rectangles upward on single-day documents.
	// Whole-month documents keep the base coordinates.
	AdjustY float64
	// GridRegion bounds the per-day cells in whole-month grid mode.
	GridRegion generic.Rect
}

// dtrGridRegion is the table body of the time record sheet, shared by
// both roles in whole-month grid mode.
var dtrGridRegion = generic.Rect{LLX: 50, LLY: 180, URX: 560, URY: 740}

var timeRecordPlacements = map[Role]RolePlacement{
	RoleOwner: {
		FieldName: "OwnerSignature1",
		Rects: []generic.Rect{
			{LLX: 50, LLY: 105, URX: 250, URY: 165},
			{LLX: 360, LLY: 105, URX: 560, URY: 165},
		},
		AdjustY:    250,
		GridRegion: dtrGridRegion,
	},
	RoleInCharge: {
		FieldName: "InchargeSignature1",
		Rects: []generic.Rect{
			{LLX: 50, LLY: 70, URX: 250, URY: 130},
			{LLX: 360, LLY: 70, URX: 560, URY: 130},
		},
		AdjustY:    255,
		GridRegion: dtrGridRegion,
	},
}

var leavePlacements = map[Role]RolePlacement{
	RoleOwner: {
		FieldName: "OwnerSignature2",
		Rects:     []generic.Rect{{LLX: 330, LLY: 535, URX: 550, URY: 605}},
	},
	RoleHead: {
		FieldName: "HeadSignature2",
		Rects:     []generic.Rect{{LLX: 330, LLY: 355, URX: 550, URY: 425}},
	},
	RoleSao: {
		FieldName: "SaoSignature2",
		Rects:     []generic.Rect{{LLX: 50, LLY: 355, URX: 270, URY: 425}},
	},
	RoleCao: {
		FieldName: "CaoSignature2",
		Rects:     []generic.Rect{{LLX: 200, LLY: 155, URX: 420, URY: 225}},
	},
}

// PlacementFor returns the layout for a role on a document type.
func PlacementFor(doc DocType, role Role) (RolePlacement, error) {
	var table map[Role]RolePlacement
	switch doc {
	case DocTimeRecord:
		table = timeRecordPlacements
	case DocLeaveApplication:
		table = leavePlacements
	default:
		return RolePlacement{}, fmt.Errorf("%w: unknown document type %d", ErrRequest, doc)
	}
	p, ok := table[role]
	if !ok {
		return RolePlacement{}, fmt.Errorf("%w: role %s cannot sign a %s", ErrRequest, role, doc)
	}
	return p, nil
}

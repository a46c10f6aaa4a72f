package selection

// View identifies an interaction source and a projection target.
type View string

const (
	ViewDefault  View = "default"
	ViewSlider   View = "slider"
	ViewScatter  View = "scatter"
	ViewVotes    View = "votes"
	ViewComments View = "comments"
)

// viewOrder breaks ties between equally ranked chart events.
var viewOrder = map[View]int{
	ViewSlider:   0,
	ViewScatter:  1,
	ViewVotes:    2,
	ViewComments: 3,
}

// Known reports whether v is an interaction source.
func (v View) Known() bool {
	_, ok := viewOrder[v]
	return ok
}

// Kind is the type of an interaction event.
type Kind string

const (
	KindNone            Kind = ""
	KindYearChanged     Kind = "year_changed"
	KindPointSelected   Kind = "point_selected"
	KindPointDeselected Kind = "point_deselected"
	KindBoxSelected     Kind = "points_box_selected"
)

// Event is the payload an interaction source reports.
type Event struct {
	Kind    Kind    `json:"kind" yaml:"kind"`
	Year    int     `json:"year,omitempty" yaml:"year,omitempty"`
	Threads []int64 `json:"threads,omitempty" yaml:"threads,omitempty"`
}

// Report is one source's entry in a round. Changed is false when the source
// has nothing new since the previous round.
type Report struct {
	Origin  View  `json:"origin" yaml:"origin"`
	Event   Event `json:"event" yaml:"event"`
	Changed bool  `json:"changed" yaml:"changed"`
}

// Resolved is the single authoritative event of a round. Box selections
// resolve to the one thread they select, so Resolved carries no slices and
// compares with ==.
type Resolved struct {
	Origin View  `json:"origin"`
	Kind   Kind  `json:"kind"`
	Year   int   `json:"year,omitempty"`
	Thread int64 `json:"thread,omitempty"`
}

// NoOp is the resolution of a round in which nothing changed.
var NoOp = Resolved{}

// IsNoOp reports whether the round resolved to nothing.
func (r Resolved) IsNoOp() bool { return r.Kind == KindNone }

// Drop explains why a changed report did not become the round's event.
type Drop struct {
	Origin View   `json:"origin"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

const (
	reasonUnknownView    = "unknown view"
	reasonUnknownKind    = "unknown event kind"
	reasonUnknownThread  = "unknown thread"
	reasonUnknownYear    = "unknown year"
	reasonSameYear       = "year already active"
	reasonOtherYear      = "thread outside active year"
	reasonAlreadyActive  = "thread already active"
	reasonEcho           = "echo of pushed highlight"
	reasonNothingToClear = "nothing selected"
	reasonSuperseded     = "superseded"
)

func rank(k Kind) int {
	switch k {
	case KindYearChanged:
		return 3
	case KindPointSelected, KindBoxSelected:
		return 2
	case KindPointDeselected:
		return 1
	default:
		return 0
	}
}

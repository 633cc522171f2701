package playback

import "fmt"

// DefaultDragThreshold is the horizontal displacement a released drag must
// reach to navigate.
const DefaultDragThreshold = 100.0

// Direction is the horizontal direction of a drag gesture at release.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return ""
	}
}

// ParseDirection accepts "left", "right" and "" (no direction).
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "left":
		return DirectionLeft, nil
	case "right":
		return DirectionRight, nil
	case "":
		return DirectionNone, nil
	default:
		return DirectionNone, fmt.Errorf("unknown drag direction %q", s)
	}
}

// Nav is a navigation decision.
type Nav int

const (
	NavNone Nav = iota
	NavNext
	NavPrev
)

func (n Nav) String() string {
	switch n {
	case NavNext:
		return "next"
	case NavPrev:
		return "prev"
	default:
		return "none"
	}
}

// Decide maps a released drag to a navigation. A leftward swipe of at least
// threshold advances; a rightward one goes back. Anything else snaps back.
func Decide(offset float64, dir Direction, threshold float64) Nav {
	switch {
	case dir == DirectionLeft && offset <= -threshold:
		return NavNext
	case dir == DirectionRight && offset >= threshold:
		return NavPrev
	default:
		return NavNone
	}
}

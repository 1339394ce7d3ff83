// Package compliance turns detection lists into PPE compliance summaries.
package compliance

import "strings"

// Group is the semantic group of a detection class.
type Group int

const (
	Neutral Group = iota
	Violation
	Compliant
	Critical
)

func (g Group) String() string {
	switch g {
	case Violation:
		return "violation"
	case Compliant:
		return "compliant"
	case Critical:
		return "critical"
	default:
		return "neutral"
	}
}

// ViolationPrefix marks classes that signal missing protective equipment.
const ViolationPrefix = "NO-"

// Known detection classes.
const (
	ClassNoHardhat    = "NO-Hardhat"
	ClassNoSafetyVest = "NO-Safety Vest"
	ClassNoMask       = "NO-Mask"
	ClassNoGloves     = "NO-Gloves"
	ClassNoGoggles    = "NO-Goggles"
	ClassHardhat      = "Hardhat"
	ClassSafetyVest   = "Safety Vest"
	ClassMask         = "Mask"
	ClassGloves       = "Gloves"
	ClassGoggles      = "Goggles"
	ClassFallDetected = "Fall-Detected"
	ClassPerson       = "Person"
	ClassLadder       = "Ladder"
	ClassSafetyCone   = "Safety Cone"
)

// Classes lists the fixed taxonomy.
var Classes = []string{
	ClassNoHardhat, ClassNoSafetyVest, ClassNoMask, ClassNoGloves, ClassNoGoggles,
	ClassHardhat, ClassSafetyVest, ClassMask, ClassGloves, ClassGoggles,
	ClassFallDetected,
	ClassPerson, ClassLadder, ClassSafetyCone,
}

var compliantClasses = map[string]struct{}{
	ClassHardhat:    {},
	ClassSafetyVest: {},
	ClassMask:       {},
	ClassGloves:     {},
	ClassGoggles:    {},
}

// GroupOf classifies a class name. Any name carrying the violation prefix is
// a violation, even when it is not listed in Classes.
func GroupOf(class string) Group {
	switch {
	case strings.HasPrefix(class, ViolationPrefix):
		return Violation
	case class == ClassFallDetected:
		return Critical
	}
	if _, ok := compliantClasses[class]; ok {
		return Compliant
	}
	return Neutral
}

// ViolationType strips the violation prefix ("NO-Hardhat" -> "Hardhat").
func ViolationType(class string) (string, bool) {
	if !strings.HasPrefix(class, ViolationPrefix) {
		return "", false
	}
	return strings.TrimPrefix(class, ViolationPrefix), true
}

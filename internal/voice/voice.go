// Package voice resolves symbolic speaker names into the voice identifiers
// understood by the speech service.
//
// Classification into official and custom voices happens once, here. Every
// other package receives an ID and asks it which kind it is instead of
// re-deriving the answer from the shape of the string.
package voice

import "strings"

// Kind distinguishes built-in voices from caller-enrolled ones.
type Kind int

const (
	// KindOfficial is a voice shipped with the speech service.
	KindOfficial Kind = iota
	// KindCustom is a voice created through enrollment.
	KindCustom
)

func (k Kind) String() string {
	if k == KindCustom {
		return "custom"
	}

	return "official"
}

// Official voice identifiers.
const (
	Aiden  = "aiden"
	Ryan   = "ryan"
	Mochi  = "mochi"
	Cherry = "Cherry"
	Serena = "Serena"
	Eric   = "Eric"

	// Default is used whenever nothing better can be resolved.
	Default = Aiden
)

const (
	customPrefix       = "v"
	customLengthCutoff = 20
)

// symbolic maps upper-cased speaker names to official identifiers.
var symbolic = map[string]string{
	"AIDEN": Aiden,
	"RYAN":  Ryan,
	"MOCHI": Mochi,
	"KIKI":  Cherry,
	"AIAI":  Serena,
	"TITI":  Eric,
}

// mySelf holds the sentinel names meaning "use my enrolled voice".
var mySelf = map[string]struct{}{
	"MY_VOICE": {},
	"MY VOICE": {},
}

// ID is a resolved voice identifier tagged with its kind.
type ID struct {
	value string
	kind  Kind
}

// Official returns an ID for a built-in voice.
func Official(name string) ID {
	return ID{value: name, kind: KindOfficial}
}

// Custom returns an ID for an enrolled voice.
func Custom(id string) ID {
	return ID{value: id, kind: KindCustom}
}

// String returns the identifier sent to the speech service.
func (id ID) String() string {
	return id.value
}

// Kind reports whether the voice is official or custom.
func (id ID) Kind() Kind {
	return id.kind
}

// IsCustom reports whether the voice was created through enrollment.
func (id ID) IsCustom() bool {
	return id.kind == KindCustom
}

// IsZero reports whether the ID carries no identifier.
func (id ID) IsZero() bool {
	return id.value == ""
}

// Resolve maps a symbolic speaker name, and an optional caller-supplied custom
// voice identifier, to the identifier to synthesize with. It never fails:
// anything it cannot place resolves to the custom identifier when one was
// given, otherwise to Default.
func Resolve(name, customID string) ID {
	trimmed := strings.TrimSpace(name)
	upper := strings.ToUpper(trimmed)

	if trimmed == "" {
		return fallback(customID)
	}

	if official, ok := symbolic[upper]; ok {
		return Official(official)
	}

	if _, ok := mySelf[upper]; ok {
		return fallback(customID)
	}

	if isOfficialID(trimmed) {
		return Official(trimmed)
	}

	if LooksCustom(trimmed) {
		return Custom(trimmed)
	}

	return fallback(customID)
}

// LooksCustom reports whether a raw identifier has the shape of an enrolled
// voice: the reserved prefix or an unusually long opaque string.
func LooksCustom(raw string) bool {
	return strings.HasPrefix(raw, customPrefix) || len(raw) > customLengthCutoff
}

func fallback(customID string) ID {
	customID = strings.TrimSpace(customID)
	if customID != "" {
		return Custom(customID)
	}

	return Official(Default)
}

func isOfficialID(raw string) bool {
	for _, official := range symbolic {
		if official == raw {
			return true
		}
	}

	return false
}

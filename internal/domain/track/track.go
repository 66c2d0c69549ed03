// Package track provides the track identifier codec and the Descriptor entity.
package track

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrInvalidFormat = errors.New("invalid track id format")
	ErrOutOfRange    = errors.New("chapter or verse out of range")
)

const (
	// MinPart and MaxPart bound the chapter and verse numbers an ID can carry.
	MinPart = 1
	MaxPart = 999

	idLength   = 6
	partLength = 3
)

// ID is a fixed-width track identifier: 3-digit chapter followed by 3-digit verse.
type ID string

// ChimeID identifies the repeat chime appended to repeating playlists.
// It is not six digits, so it never collides with an encoded ID.
const ChimeID ID = "repeat-chime"

// Encode builds the identifier for the given chapter and verse.
func Encode(chapter, verse int) (ID, error) {
	if chapter < MinPart || chapter > MaxPart {
		return "", errors.Wrapf(ErrOutOfRange, "chapter %d", chapter)
	}
	if verse < MinPart || verse > MaxPart {
		return "", errors.Wrapf(ErrOutOfRange, "verse %d", verse)
	}
	return ID(fmt.Sprintf("%03d%03d", chapter, verse)), nil
}

// MustEncode is like Encode but panics on error.
func MustEncode(chapter, verse int) ID {
	id, err := Encode(chapter, verse)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode splits an identifier back into chapter and verse.
func Decode(id ID) (chapter, verse int, err error) {
	s := string(id)
	if len(s) != idLength {
		return 0, 0, errors.Wrapf(ErrInvalidFormat, "%q: want %d characters", s, idLength)
	}
	for i := 0; i < idLength; i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, errors.Wrapf(ErrInvalidFormat, "%q: non-numeric character at %d", s, i)
		}
	}

	// Both halves are pure digits at this point, Atoi cannot fail.
	chapter, _ = strconv.Atoi(s[:partLength])
	verse, _ = strconv.Atoi(s[partLength:])
	if chapter < MinPart || verse < MinPart {
		return 0, 0, errors.Wrapf(ErrOutOfRange, "%q", s)
	}
	return chapter, verse, nil
}

// Valid reports whether the identifier decodes cleanly.
func (id ID) Valid() bool {
	_, _, err := Decode(id)
	return err == nil
}

// IsChime reports whether the identifier is the repeat chime.
func (id ID) IsChime() bool {
	return id == ChimeID
}

func (id ID) String() string {
	return string(id)
}

// Descriptor is one playable entry of a playlist.
// The repeat chime carries zero Chapter and Verse.
type Descriptor struct {
	Chapter int    // Chapter number (0 for the chime)
	Verse   int    // Verse number (0 for the chime)
	ID      ID     // Track identifier
	URL     string // Audio resource URL
}

// IsChime reports whether the descriptor is the repeat chime.
func (d Descriptor) IsChime() bool {
	return d.ID.IsChime()
}

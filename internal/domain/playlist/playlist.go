// Package playlist provides the Playlist domain entity and the track list builder.
package playlist

import (
	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/track"
)

// Range is a 1-indexed inclusive verse range within a chapter.
type Range struct {
	Start int
	End   int
}

// Playlist is the ordered list of tracks derived from a selection.
// Tracks are strictly increasing by verse; the chime, if any, is last.
type Playlist struct {
	Chapter  chapter.Chapter
	Narrator narrator.Narrator
	Range    Range
	Repeat   bool
	Tracks   []track.Descriptor
}

// Len returns the number of tracks including the chime.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tracks)
}

// Empty reports whether there is nothing to play.
func (p *Playlist) Empty() bool {
	return p.Len() == 0
}

// At returns the track at index i.
func (p *Playlist) At(i int) (track.Descriptor, bool) {
	if i < 0 || i >= p.Len() {
		return track.Descriptor{}, false
	}
	return p.Tracks[i], true
}

// IndexOf returns the index of the track with the given ID, or -1.
func (p *Playlist) IndexOf(id track.ID) int {
	for i := 0; i < p.Len(); i++ {
		if p.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// NextIndex returns the index played after i.
// Past the last track it wraps to 0 only when the playlist repeats.
func (p *Playlist) NextIndex(i int) (int, bool) {
	n := p.Len()
	if n == 0 {
		return 0, false
	}
	if i+1 < n {
		return i + 1, true
	}
	if p.Repeat {
		return 0, true
	}
	return 0, false
}

// PreviousIndex returns i-1, clamped to 0.
func (p *Playlist) PreviousIndex(i int) int {
	if i <= 0 {
		return 0
	}
	if n := p.Len(); i > n {
		return n - 1
	}
	return i - 1
}

// Upcoming returns up to k tracks following i in playback order.
// The current track is never included.
func (p *Playlist) Upcoming(i, k int) []track.Descriptor {
	if k <= 0 {
		return nil
	}
	result := make([]track.Descriptor, 0, k)
	cur := i
	for len(result) < k {
		next, ok := p.NextIndex(cur)
		if !ok || next == i {
			break
		}
		result = append(result, p.Tracks[next])
		cur = next
	}
	return result
}

// URLs returns every track URL in order.
func (p *Playlist) URLs() []string {
	urls := make([]string, 0, p.Len())
	for i := 0; i < p.Len(); i++ {
		urls = append(urls, p.Tracks[i].URL)
	}
	return urls
}

// Verses returns the number of verse tracks, excluding the chime.
func (p *Playlist) Verses() int {
	n := p.Len()
	if n > 0 && p.Tracks[n-1].IsChime() {
		n--
	}
	return n
}

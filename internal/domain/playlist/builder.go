package playlist

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/track"
)

// ErrOutOfRange is returned for a range outside the chapter.
var ErrOutOfRange = errors.New("verse range out of range")

// BuilderConfig holds the URL template inputs.
type BuilderConfig struct {
	AudioHost string // e.g. https://everyayah.com/data
	Extension string // e.g. mp3
	ChimeURL  string // Resource played after the last verse when repeating
}

// Builder derives playlists from selections.
type Builder struct {
	host     string
	ext      string
	chimeURL string
}

// NewBuilder creates a builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{
		host:     strings.TrimRight(cfg.AudioHost, "/"),
		ext:      strings.TrimPrefix(cfg.Extension, "."),
		chimeURL: cfg.ChimeURL,
	}
}

// Validate checks 1 <= Start <= End <= verse count.
func (r Range) Validate(ch chapter.Chapter) error {
	if r.Start < 1 || r.End < r.Start || r.End > ch.VerseCount {
		return errors.Wrapf(ErrOutOfRange, "[%d,%d] in chapter %d with %d verses",
			r.Start, r.End, ch.Number, ch.VerseCount)
	}
	return nil
}

// TrackURL returns {host}/{narrator path}/{id}.{ext}.
func (b *Builder) TrackURL(n narrator.Narrator, id track.ID) string {
	return fmt.Sprintf("%s/%s/%s.%s", b.host, n.URLPath, id, b.ext)
}

// Build derives the playlist for a chapter range. Nothing is returned on error.
func (b *Builder) Build(ch chapter.Chapter, r Range, n narrator.Narrator, repeat bool) (*Playlist, error) {
	if err := r.Validate(ch); err != nil {
		return nil, err
	}

	size := r.End - r.Start + 1
	if repeat {
		size++
	}
	tracks := make([]track.Descriptor, 0, size)
	for v := r.Start; v <= r.End; v++ {
		id, err := track.Encode(ch.Number, v)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode verse %d:%d", ch.Number, v)
		}
		tracks = append(tracks, track.Descriptor{
			Chapter: ch.Number,
			Verse:   v,
			ID:      id,
			URL:     b.TrackURL(n, id),
		})
	}
	if repeat {
		tracks = append(tracks, track.Descriptor{ID: track.ChimeID, URL: b.chimeURL})
	}

	return &Playlist{
		Chapter:  ch,
		Narrator: n,
		Range:    r,
		Repeat:   repeat,
		Tracks:   tracks,
	}, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"

	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/session"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/domain/playlist"
)

// console prints now-playing changes and transient notices to the terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// SetOutput redirects printing, e.g. through the prompt so it is redrawn.
func (c *console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = w
}

// Publish implements session.NowPlaying.
func (c *console) Publish(md session.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Now playing: %s (%s)\n", md.Title, md.Subtitle)
}

// Transient implements session.NowPlaying.
func (c *console) Transient(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[!] %s\n", msg)
}

func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

type selector interface {
	Select(sel session.Selection) error
	Selection() session.Selection
	Status() session.Status
	Playlist() *playlist.Playlist
}

type dispatcher interface {
	DispatchName(ctx context.Context, name string) error
	Jump(ctx context.Context, verse int) error
}

type cacheChecker interface {
	Has(ctx context.Context, url string) bool
}

// prompt is the interactive command line.
type prompt struct {
	rl            *readline.Instance
	sess          selector
	dispatch      dispatcher
	display       *console
	cache         cacheChecker // nil when caching is disabled
	nothingToPlay string

	// spawn runs transport commands so a slow start never blocks the prompt.
	spawn func(func())
}

func newPrompt(sess *session.Manager, d *transport.Dispatcher, display *console, cache cacheChecker, narrators []string, nothingToPlay string) (*prompt, error) {
	actions := make([]readline.PrefixCompleterInterface, 0, len(transport.Actions())+8)
	for _, a := range transport.Actions() {
		actions = append(actions, readline.PcItem(a.String()))
	}
	actions = append(actions,
		readline.PcItem("jump"),
		readline.PcItem("select"),
		readline.PcItem("narrator", readline.PcItemDynamic(func(string) []string { return narrators })),
		readline.PcItem("repeat", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("status"),
		readline.PcItem("tracks"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">> ",
		AutoComplete:    readline.NewPrefixCompleter(actions...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start prompt")
	}
	display.SetOutput(rl.Stdout())

	return &prompt{
		rl:            rl,
		sess:          sess,
		dispatch:      d,
		display:       display,
		cache:         cache,
		nothingToPlay: nothingToPlay,
		spawn:         func(f func()) { go f() },
	}, nil
}

// Run reads commands until quit, EOF or an interrupt on an empty line.
func (p *prompt) Run(ctx context.Context) {
	p.display.Printf("Type 'help' for commands.\n")
	for {
		line, err := p.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if p.execute(ctx, line) {
			return
		}
	}
}

// Close releases the terminal. A blocked Run returns.
func (p *prompt) Close() {
	if p.rl != nil {
		_ = p.rl.Close()
	}
}

// execute runs one command line and reports whether the prompt should exit.
func (p *prompt) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		p.help()
	case "status":
		p.status()
	case "tracks":
		p.tracks(ctx)
	case "jump":
		if len(args) != 1 {
			p.display.Printf("usage: jump VERSE\n")
			return false
		}
		verse, err := strconv.Atoi(args[0])
		if err != nil {
			p.display.Printf("verse must be a number: %s\n", args[0])
			return false
		}
		p.spawn(func() { p.report("jump", p.dispatch.Jump(ctx, verse)) })
	case "select":
		p.selectRange(args)
	case "narrator":
		if len(args) != 1 {
			p.display.Printf("usage: narrator ID\n")
			return false
		}
		sel := p.sess.Selection()
		sel.Narrator = args[0]
		p.apply(sel)
	case "repeat":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			p.display.Printf("usage: repeat on|off\n")
			return false
		}
		sel := p.sess.Selection()
		sel.Repeat = args[0] == "on"
		p.apply(sel)
	default:
		if _, err := transport.ParseAction(cmd); err != nil {
			p.display.Printf("unknown command: %s\n", cmd)
			return false
		}
		p.spawn(func() { p.report(cmd, p.dispatch.DispatchName(ctx, cmd)) })
	}
	return false
}

// selectRange handles "select CHAPTER [START [END]]". The narrator and repeat flag carry over.
func (p *prompt) selectRange(args []string) {
	if len(args) < 1 || len(args) > 3 {
		p.display.Printf("usage: select CHAPTER [START [END]]\n")
		return
	}
	nums := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 {
			p.display.Printf("not a positive number: %s\n", a)
			return
		}
		nums[i] = n
	}

	sel := p.sess.Selection()
	sel.Chapter, sel.Start, sel.End = nums[0], 0, 0
	if len(nums) > 1 {
		sel.Start = nums[1]
	}
	if len(nums) > 2 {
		sel.End = nums[2]
	}
	p.apply(sel)
}

func (p *prompt) apply(sel session.Selection) {
	if err := p.sess.Select(sel); err != nil {
		p.report("select", err)
		return
	}
	cur := p.sess.Selection()
	p.display.Printf("Selected chapter %d, verses %d-%d (%s)\n", cur.Chapter, cur.Start, cur.End, cur.Narrator)
}

func (p *prompt) report(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, playback.ErrEmptyPlaylist):
		p.display.Transient(p.nothingToPlay)
	case errors.Is(err, playback.ErrSuperseded):
		// A later command took over.
	default:
		p.display.Printf("%s failed: %v\n", op, err)
	}
}

func (p *prompt) status() {
	st := p.sess.Status()
	snap := st.Playback
	p.display.Printf("State: %s (%s)\n", snap.State, snap.Strategy)
	p.display.Printf("Selection: %s %d-%d, %s", st.Chapter.Name, st.Selection.Start, st.Selection.End, st.Narrator.Name)
	if st.Selection.Repeat {
		p.display.Printf(" [repeat]")
	}
	p.display.Printf("\n")
	if snap.Tracks > 0 {
		p.display.Printf("Track: %d/%d %s at %s\n", snap.Index+1, snap.Tracks, st.NowPlaying.Title, snap.Position.Truncate(100*time.Millisecond))
	}
	if snap.LastError != nil {
		p.display.Printf("Last error: %v\n", snap.LastError)
	}
}

// tracks lists the playlist. ">" marks the active track and "*" one already cached.
func (p *prompt) tracks(ctx context.Context) {
	pl := p.sess.Playlist()
	if pl == nil {
		p.display.Transient(p.nothingToPlay)
		return
	}
	active := p.sess.Status().Playback.Index
	for i, d := range pl.Tracks {
		marker := " "
		if i == active {
			marker = ">"
		}
		cached := " "
		if p.cache != nil && p.cache.Has(ctx, d.URL) {
			cached = "*"
		}
		p.display.Printf("%s%s %3d  %s\n", marker, cached, i, d.ID)
	}
}

func (p *prompt) help() {
	p.display.Printf(`Commands:
  play | pause | stop | next | previous | restart | foreground
  jump VERSE                   play a verse of the current chapter
  select CHAPTER [START [END]] choose a new range
  narrator ID                  switch narrator
  repeat on|off                loop the range
  status | tracks | quit
`)
}

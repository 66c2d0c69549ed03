// Package main provides the player entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	apiconnect "github.com/osa030/tilawa/internal/api/connect"
	"github.com/osa030/tilawa/internal/app/keepalive"
	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/prefetch"
	"github.com/osa030/tilawa/internal/app/session"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/infra/audiocache"
	"github.com/osa030/tilawa/internal/infra/audiohost"
	"github.com/osa030/tilawa/internal/infra/config"
	"github.com/osa030/tilawa/internal/infra/logger"
	"github.com/osa030/tilawa/internal/infra/nullout"
	"github.com/osa030/tilawa/internal/infra/speaker"
)

var (
	app        = kingpin.New("tilawa", "Recitation player")
	configPath = app.Flag("config", "Path to config file (default: built-in settings)").Envar("TILAWA_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	chapterFlag  = app.Flag("chapter", "Chapter number").Short('c').Int()
	startFlag    = app.Flag("start", "First verse (default: 1)").Int()
	endFlag      = app.Flag("end", "Last verse (default: end of chapter)").Int()
	narratorFlag = app.Flag("narrator", "Narrator ID").Short('n').String()
	repeatFlag   = app.Flag("repeat", "Repeat the range").IsSetByUser(&repeatSet).Bool()
	strategyFlag = app.Flag("strategy", "Playback strategy (double, single)").String()
	outputFlag   = app.Flag("output", "Audio output (speaker, null)").String()

	repeatSet bool

	playCmd      = app.Command("play", "Play the selection (default)").Default()
	noPrompt     = playCmd.Flag("no-prompt", "Disable the interactive prompt").Bool()
	autoplay     = playCmd.Flag("autoplay", "Start playing immediately").Default("true").Bool()
	tracksCmd    = app.Command("tracks", "Print the playlist for the selection")
	prefetchCmd  = app.Command("prefetch", "Download the selection into the cache")
	chaptersCmd  = app.Command("chapters", "List chapters")
	narratorsCmd = app.Command("narrators", "List narrators")

	cacheCmd      = app.Command("cache", "Manage the audio cache")
	cacheStatsCmd = cacheCmd.Command("stats", "Show cache usage")
	cacheClearCmd = cacheCmd.Command("clear", "Remove every cached file")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{Output: cfg.Log.Output, Level: cfg.Log.Level}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	switch command {
	case chaptersCmd.FullCommand():
		printChapters()
		return
	case narratorsCmd.FullCommand():
		printNarrators(cfg)
		return
	case tracksCmd.FullCommand():
		err = printTracks(cfg)
	case prefetchCmd.FullCommand():
		err = warm(cfg)
	case cacheStatsCmd.FullCommand():
		err = cacheStats(cfg)
	case cacheClearCmd.FullCommand():
		err = cacheClear(cfg)
	default:
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("%v", err)
		closeLog()
		os.Exit(1)
	}
}

// applyFlags overlays command-line selection and playback flags onto cfg.
func applyFlags(cfg *config.Config) error {
	if *chapterFlag > 0 {
		cfg.Selection.Chapter = *chapterFlag
		// A new chapter starts from a whole-chapter range unless flags say otherwise.
		cfg.Selection.Start, cfg.Selection.End = 0, 0
	}
	if *startFlag > 0 {
		cfg.Selection.Start = *startFlag
	}
	if *endFlag > 0 {
		cfg.Selection.End = *endFlag
	}
	if *narratorFlag != "" {
		cfg.Selection.Narrator = *narratorFlag
	}
	if repeatSet {
		cfg.Selection.Repeat = *repeatFlag
	}
	if *strategyFlag != "" {
		cfg.Playback.Strategy = *strategyFlag
	}
	if *outputFlag != "" {
		cfg.Output.Type = *outputFlag
	}
	return cfg.Validate()
}

// run plays the configured selection until interrupted. Using a separate
// function ensures deferred cleanup runs even when returning with an error.
func run(cfg *config.Config) error {
	narrators, err := narrator.NewRegistry(cfg.NarratorList())
	if err != nil {
		return errors.Wrap(err, "invalid narrators")
	}
	strategy, err := playback.ParseStrategy(cfg.Playback.Strategy)
	if err != nil {
		return err
	}

	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	host := newAudioHost(cfg)

	var prefetcher playback.Prefetcher
	var ensurer speaker.Ensurer
	if cache != nil {
		p := prefetch.New(cache, host, prefetch.Config{
			Count:       cfg.Playback.PrefetchCount,
			Concurrency: cfg.Playback.PrefetchConcurrency,
		})
		defer p.Close()
		prefetcher, ensurer = p, p
	}

	be, err := openBackend(cfg, strategy, cache, ensurer, host)
	if err != nil {
		return err
	}
	defer be.close()

	keep := keepalive.New(keepalive.Config{
		Enabled:     !cfg.Playback.Keepalive.Disabled,
		FrequencyHz: cfg.Playback.Keepalive.FrequencyHz,
		Gain:        cfg.Playback.Keepalive.Gain,
	}, be.opener)
	defer func() {
		if err := keep.Shutdown(); err != nil {
			zlog.Warn().Err(err).Msg("keepalive: shutdown failed")
		}
	}()

	ctrl, err := playback.NewController(playback.Config{
		Strategy:   strategy,
		Keepalive:  keep,
		Prefetcher: prefetcher,
	}, be.outputs...)
	if err != nil {
		return errors.Wrap(err, "failed to create playback controller")
	}

	notifier := notification.NewManager()
	defer notifier.Close()

	display := newConsole(os.Stdout)
	sess, err := session.NewManager(session.Deps{
		Catalog:        chapter.Default(),
		Narrators:      narrators,
		Builder:        newBuilder(cfg),
		Player:         ctrl,
		Notifier:       notifier,
		NowPlaying:     display,
		FailureMessage: cfg.Messages.PlaybackFailed,
	})
	if err != nil {
		ctrl.Close()
		return errors.Wrap(err, "failed to create session manager")
	}
	sess.Start()
	defer sess.Close()

	if err := sess.Select(selectionFrom(cfg)); err != nil {
		if errors.Is(err, playback.ErrEmptyPlaylist) {
			display.Transient(cfg.Messages.NothingToPlay)
		}
		return errors.Wrap(err, "failed to load selection")
	}

	dispatcher := transport.NewDispatcher(ctrl, transport.ChapterFunc(func() int {
		return sess.Selection().Chapter
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cached apiconnect.CacheChecker
	if cache != nil {
		cached = cache
	}

	var server *http.Server
	serverErrCh := make(chan error, 1)
	if cfg.Server.Enabled {
		server = apiconnect.NewServer(cfg.Server.Addr, apiconnect.NewHandler(apiconnect.Deps{
			Session:    sess,
			Dispatcher: dispatcher,
			Subscriber: notifier,
			Cache:      cached,
			Token:      cfg.Server.Token,
		}))
		server.BaseContext = func(net.Listener) context.Context { return ctx }
		if cfg.Server.Token == "" {
			zlog.Warn().Msg("server: no admin token configured, transport endpoints are open")
		}
		go func() {
			zlog.Info().Msgf("Starting control server: addr=%s", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrCh <- err
			}
		}()
		executeHooks(cfg.Server.Hooks.OnStarted, "on_started")
	}

	quitCh := make(chan struct{})
	if !*noPrompt {
		p, err := newPrompt(sess, dispatcher, display, cached, narrators.IDs(), cfg.Messages.NothingToPlay)
		if err != nil {
			return err
		}
		defer p.Close()
		go func() {
			p.Run(ctx)
			close(quitCh)
		}()
	}

	if *autoplay {
		go func() {
			if err := dispatcher.Dispatch(ctx, transport.ActionPlay); err != nil {
				zlog.Warn().Err(err).Msg("Autoplay failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGCONT)
	defer signal.Stop(sigCh)

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTSTP:
				be.suspend()
				_ = syscall.Kill(os.Getpid(), syscall.SIGSTOP)
				continue
			case syscall.SIGCONT:
				// Back in the foreground after a job-control stop.
				be.resume(ctx)
				if _, err := ctrl.Foreground(); err != nil {
					zlog.Debug().Err(err).Msg("Foreground check failed")
				}
				continue
			}
			zlog.Info().Msg("Received shutdown signal...")
			break loop
		case <-quitCh:
			break loop
		case <-sess.Done():
			zlog.Info().Msg("Session ended, shutting down...")
			break loop
		case err := <-serverErrCh:
			return errors.Wrap(err, "server error")
		}
	}

	if server != nil {
		// Event streams end with ctx; Shutdown would otherwise wait on them.
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
		executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	}

	zlog.Info().Msg("Player stopped")
	return nil
}

// backend is the audio output backend: the output slots for the strategy
// and the keepalive opener sharing their audio session.
type backend struct {
	outputs []playback.Output
	opener  keepalive.Opener
	device  *speaker.Device // nil for the null backend
}

func openBackend(cfg *config.Config, strategy playback.Strategy, cache *audiocache.Cache, ensurer speaker.Ensurer, host *audiohost.Client) (*backend, error) {
	n := strategy.Outputs()
	be := &backend{outputs: make([]playback.Output, 0, n)}

	switch cfg.Output.Type {
	case "null":
		var settings nullout.Config
		if err := cfg.DecodeOutputSettings(&settings); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			be.outputs = append(be.outputs, nullout.New(settings, fmt.Sprintf("null-%d", i)))
		}
		be.opener = nullout.Opener(speaker.DefaultSampleRate)

	default:
		var settings speaker.DeviceConfig
		if err := cfg.DecodeOutputSettings(&settings); err != nil {
			return nil, err
		}
		dev, err := speaker.OpenDevice(settings)
		if err != nil {
			return nil, err
		}

		var store speaker.Cache
		if cache != nil {
			store = cache
		}
		resolver := speaker.NewResolver(store, ensurer, host)
		for i := 0; i < n; i++ {
			be.outputs = append(be.outputs, speaker.NewOutput(dev, resolver, fmt.Sprintf("speaker-%d", i)))
		}
		be.opener = dev.Opener()
		be.device = dev
	}
	return be, nil
}

// suspend releases the audio hardware while the process is stopped.
func (b *backend) suspend() {
	if b.device == nil {
		return
	}
	if err := b.device.Suspend(); err != nil {
		zlog.Warn().Err(err).Msg("Failed to suspend audio device")
	}
}

func (b *backend) resume(ctx context.Context) {
	if b.device == nil {
		return
	}
	if err := b.device.Resume(ctx); err != nil {
		zlog.Warn().Err(err).Msg("Failed to resume audio device")
	}
}

func (b *backend) close() {
	if b.device != nil {
		_ = b.device.Close()
	}
}

func openCache(cfg *config.Config) (*audiocache.Cache, error) {
	if cfg.Cache.Disabled {
		return nil, nil
	}
	dir, err := cfg.CacheDir()
	if err != nil {
		return nil, err
	}
	cache, err := audiocache.Open(audiocache.Config{Dir: dir, LimitBytes: cfg.CacheLimitBytes()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audio cache")
	}
	return cache, nil
}

func newAudioHost(cfg *config.Config) *audiohost.Client {
	return audiohost.New(audiohost.Config{
		Host:       cfg.Audio.Host,
		Mirrors:    cfg.Audio.Mirrors,
		UserAgent:  cfg.Audio.UserAgent,
		Timeout:    cfg.AudioTimeout(),
		MaxRetries: cfg.Audio.MaxRetries,
	})
}

func newBuilder(cfg *config.Config) *playlist.Builder {
	return playlist.NewBuilder(playlist.BuilderConfig{
		AudioHost: cfg.Audio.Host,
		Extension: cfg.Audio.Extension,
		ChimeURL:  cfg.Audio.ChimeURL,
	})
}

func selectionFrom(cfg *config.Config) session.Selection {
	return session.Selection{
		Chapter:  cfg.Selection.Chapter,
		Start:    cfg.Selection.Start,
		End:      cfg.Selection.End,
		Narrator: cfg.Selection.Narrator,
		Repeat:   cfg.Selection.Repeat,
	}
}

// buildPlaylist builds the configured selection without starting playback.
func buildPlaylist(cfg *config.Config) (*playlist.Playlist, error) {
	narrators, err := narrator.NewRegistry(cfg.NarratorList())
	if err != nil {
		return nil, errors.Wrap(err, "invalid narrators")
	}
	pl, _, err := session.Build(chapter.Default(), narrators, newBuilder(cfg), selectionFrom(cfg))
	return pl, err
}

func printChapters() {
	fmt.Println("Chapters:")
	for _, ch := range chapter.Default().All() {
		fmt.Printf("  %3d  %-28s %3d verses\n", ch.Number, ch.Name, ch.VerseCount)
	}
}

func printNarrators(cfg *config.Config) {
	fmt.Println("Narrators:")
	for _, n := range cfg.NarratorList() {
		marker := " "
		if n.ID == cfg.Selection.Narrator {
			marker = "*"
		}
		fmt.Printf(" %s %-12s %-28s %s\n", marker, n.ID, n.Name, n.URLPath)
	}
}

func printTracks(cfg *config.Config) error {
	pl, err := buildPlaylist(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d-%d (%s)", pl.Chapter.Name, pl.Range.Start, pl.Range.End, pl.Narrator.Name)
	if pl.Repeat {
		fmt.Print(" [repeat]")
	}
	fmt.Println()

	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	ctx := context.Background()
	for i, d := range pl.Tracks {
		marker := " "
		if cache != nil && cache.Has(ctx, d.URL) {
			marker = "*"
		}
		fmt.Printf("%s %3d  %s  %s\n", marker, i, d.ID, d.URL)
	}
	return nil
}

func warm(cfg *config.Config) error {
	if cfg.Cache.Disabled {
		return errors.New("the audio cache is disabled")
	}
	pl, err := buildPlaylist(cfg)
	if err != nil {
		return err
	}
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	p := prefetch.New(cache, newAudioHost(cfg), prefetch.Config{Concurrency: cfg.Playback.PrefetchConcurrency})
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Info().Msgf("Prefetching %d tracks: chapter=%d narrator=%s", pl.Len(), pl.Chapter.Number, pl.Narrator.ID)
	result, err := p.Warm(ctx, pl.URLs())
	fmt.Printf("Fetched: %d, Cached: %d, Failed: %d\n", result.Fetched, result.Skipped, result.Failed)
	return err
}

func cacheStats(cfg *config.Config) error {
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	if cache == nil {
		fmt.Println("Cache disabled")
		return nil
	}
	defer cache.Close()

	stats, err := cache.Stats(context.Background())
	if err != nil {
		return err
	}
	dir, _ := cfg.CacheDir()
	fmt.Printf("Directory: %s\n", dir)
	fmt.Printf("Entries: %d\n", stats.Entries)
	fmt.Printf("Size: %.1f MB", float64(stats.TotalBytes)/(1<<20))
	if stats.LimitBytes > 0 {
		fmt.Printf(" / %.1f MB", float64(stats.LimitBytes)/(1<<20))
	}
	fmt.Println()
	return nil
}

func cacheClear(cfg *config.Config) error {
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	if cache == nil {
		fmt.Println("Cache disabled")
		return nil
	}
	defer cache.Close()

	ctx := context.Background()
	entries, err := cache.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := cache.Remove(ctx, e.URL); err != nil {
			return err
		}
	}
	fmt.Printf("Removed %d entries\n", len(entries))
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}

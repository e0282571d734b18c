package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
	"github.com/wippyai/interop-bridge/session"
)

func main() {
	var (
		count       = flag.Int("n", 3, "Number of sessions to start")
		prefix      = flag.String("name", "node", "Instance name prefix (empty starts unnamed sessions)")
		realloc     = flag.Int("realloc", 4096, "Capacity to grow one external buffer per session to (0 skips)")
		typeName    = flag.String("type", "Person", "Type to register through each session (empty skips)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *count < 0 || *realloc < 0 {
		fmt.Fprintln(os.Stderr, "Usage: bridge [-n sessions] [-name prefix] [-realloc bytes] [-type name]")
		fmt.Fprintln(os.Stderr, "       bridge -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	if err := run(cfg, *count, *prefix, int32(*realloc), *typeName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLoggers(l *zap.Logger) {
	session.SetLogger(l.Named("session"))
	metadata.SetLogger(l.Named("metadata"))
	managed.SetLogger(l.Named("managed"))
}

func run(cfg config.Config, count int, prefix string, realloc int32, typeName string) error {
	ctx := context.Background()

	rt, err := managed.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer rt.Close(ctx)

	var handles []session.Handle
	for i := 0; i < count; i++ {
		var h session.Handle
		if prefix == "" {
			h, err = rt.StartUnnamed(ctx)
		} else {
			h, err = rt.Start(ctx, fmt.Sprintf("%s-%d", prefix, i))
		}
		if err != nil {
			return fmt.Errorf("start session %d: %w", i, err)
		}
		handles = append(handles, h)
	}

	out := newPrinter()
	out.title("Sessions")
	for _, h := range handles {
		if typeName != "" {
			if err := registerType(ctx, rt, h, typeName); err != nil {
				return fmt.Errorf("register type: %w", err)
			}
		}
		if realloc > 0 {
			if err := growBuffer(ctx, rt, h, realloc); err != nil {
				return fmt.Errorf("realloc: %w", err)
			}
		}
		err := rt.Registry().Do(h, func(s *session.Session) error {
			name, ok := s.InstanceName()
			if !ok {
				name = "(unnamed)"
			}
			out.row(fmt.Sprintf("%#x", uint64(h)), name+" "+s.State().String())
			return nil
		})
		if err != nil {
			return err
		}
	}

	out.title("Runtime")
	printStats(out, rt.Stats())

	for _, h := range handles {
		if err := rt.Stop(ctx, h); err != nil {
			return fmt.Errorf("stop %#x: %w", uint64(h), err)
		}
	}

	out.title("After stop")
	printStats(out, rt.Stats())
	return nil
}

// registerType pushes a small descriptor through the session's updater so
// it reaches the shared schema store.
func registerType(ctx context.Context, rt *managed.Runtime, h session.Handle, name string) error {
	d, err := metadata.NewBuilder(name).
		Field("id", metadata.TypeLong).
		Field("name", metadata.TypeString).
		AffinityKey("id").
		Build()
	if err != nil {
		return err
	}
	return rt.Registry().Do(h, func(s *session.Session) error {
		u, err := s.TypeUpdater()
		if err != nil {
			return err
		}
		return u.Push(ctx, d)
	})
}

// growBuffer allocates an external buffer in the managed heap and has the
// session grow it through the reallocation callback.
func growBuffer(ctx context.Context, rt *managed.Runtime, h session.Handle, capacity int32) error {
	addr, err := rt.Allocate(64)
	if err != nil {
		return err
	}
	return rt.Realloc(ctx, h, addr, capacity)
}

func printStats(out *printer, st managed.Stats) {
	out.row("sessions", fmt.Sprint(st.Sessions))
	out.row("objects", fmt.Sprint(st.Objects))
	out.row("global refs", fmt.Sprint(st.GlobalRefs))
	out.row("types", fmt.Sprint(st.Types))
	out.row("releases", fmt.Sprint(st.Releases))
	out.row("heap", fmt.Sprintf("%d / %d bytes", st.HeapUsed, st.HeapSize))
}

type printer struct {
	styled bool
}

func newPrinter() *printer {
	return &printer{styled: term.IsTerminal(int(os.Stdout.Fd()))}
}

func (p *printer) title(s string) {
	if p.styled {
		fmt.Println(titleStyle.Render(s))
		return
	}
	fmt.Printf("== %s ==\n", s)
}

func (p *printer) row(key, value string) {
	key = fmt.Sprintf("  %-12s", key)
	if p.styled {
		fmt.Println(typeStyle.Render(key) + " " + resultStyle.Render(value))
		return
	}
	fmt.Println(strings.TrimRight(key, " ") + ": " + value)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"satunaskah/internal/client"
	"satunaskah/internal/document/model"
	"satunaskah/internal/editor"
	"satunaskah/pkg/logger"

	"github.com/urfave/cli/v3"
)

// attach runs a line-oriented editor on one document. Every stdin line is
// appended to the buffer as a local edit; lines starting with ':' are commands.
func attach(ctx context.Context, cmd *cli.Command) error {
	if err := logger.Init(cmd.String("log-level")); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	docID := cmd.Args().First()
	if docID == "" {
		docID = model.NewDocumentID
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := client.New(cmd.String("server"), cmd.String("token"))
	if err != nil {
		return err
	}

	// Without a valid token the controller refuses to open, before touching the store.
	var userID string
	if profile, err := store.Profile(ctx); err == nil {
		userID = profile.ID
	} else if !errors.Is(err, editor.ErrUnauthenticated) {
		return fmt.Errorf("resolve current user: %w", err)
	}

	buf := editor.NewMemoryBuffer()
	out := os.Stdout
	ctrl := editor.NewController(store, buf, userID, docID, editor.Options{
		AutosaveInterval: cmd.Duration("autosave"),
		Notifier: editor.NotifierFunc(func(n editor.Notice) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Message)
		}),
		OnPresence: func(users []editor.ActiveUser) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			fmt.Fprintf(out, "-- also editing: %s\n", strings.Join(names, ", "))
		},
		OnRemote: func(change model.DocumentChange) {
			fmt.Fprintf(out, "-- remote change at %s\n%s\n", change.UpdatedAt.Format(time.Kitchen), change.Content)
		},
		OnCreated: func(id string) {
			fmt.Fprintf(out, "-- created document %s\n", id)
		},
		OnFind: func() {
			fmt.Fprintln(out, "-- find: type :find <text>")
		},
	})

	if err := ctrl.Open(ctx); err != nil {
		if errors.Is(err, editor.ErrUnauthenticated) {
			return fmt.Errorf("%w: pass --token or set SATUNASKAH_TOKEN", err)
		}
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ctrl.Close(closeCtx); err != nil {
			logger.Sugar.Warnf("Editing session teardown: %v", err)
		}
	}()

	fmt.Fprintf(out, "-- editing %s (:w save, :title <t>, :key <combo>, :find <text>, :stats, :q quit)\n%s\n", docID, buf.Content())
	return editLoop(ctx, os.Stdin, out, ctrl, buf)
}

func editLoop(ctx context.Context, in io.Reader, out io.Writer, ctrl *editor.Controller, buf *editor.MemoryBuffer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return ctrl.Save(ctx)
			}
			quit, err := runLine(ctx, out, ctrl, buf, line)
			if err != nil {
				fmt.Fprintf(out, "-- %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func runLine(ctx context.Context, out io.Writer, ctrl *editor.Controller, buf *editor.MemoryBuffer, line string) (bool, error) {
	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case ":q":
		return true, nil
	case ":w":
		return false, ctrl.Save(ctx)
	case ":title":
		ctrl.SetTitle(arg)
	case ":key":
		if !ctrl.Shortcut(arg) {
			return false, fmt.Errorf("no binding for %q", arg)
		}
	case ":find":
		for i, l := range strings.Split(buf.Content(), "\n") {
			if arg != "" && strings.Contains(l, arg) {
				fmt.Fprintf(out, "%4d  %s\n", i+1, l)
			}
		}
	case ":stats":
		m := buf.Metrics()
		fmt.Fprintf(out, "-- %d words, %d characters, %d pages\n", m.Words, m.Characters, m.Pages)
	default:
		ctrl.Dispatch(func() {
			content := buf.Content()
			if content != "" {
				content += "\n"
			}
			buf.Edit(content + line)
		})
	}
	return false, nil
}

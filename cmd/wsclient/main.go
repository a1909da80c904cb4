package main

import (
	"chat-gateway/client"
	"chat-gateway/domain"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway address")
	path := flag.String("path", "/ws", "socket path")
	room := flag.String("room", "", "room to join")
	nickname := flag.String("nickname", "", "nickname in the room")
	token := flag.String("token", "", "optional push token")
	text := flag.String("text", "", "message sent right after joining")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "heartbeat period, 0 disables heartbeats")
	duration := flag.Duration("duration", 0, "stop after this duration, 0 runs until interrupted")
	flag.Parse()

	if *room == "" || *nickname == "" {
		fmt.Fprintln(os.Stderr, "-room and -nickname are required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	s := session{addr: *addr, path: *path, room: domain.RoomID(*room), nickname: *nickname, token: *token, text: *text, heartbeat: *heartbeat}
	if err := s.run(ctx, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.FgRed.Render(err.Error()))
		os.Exit(1)
	}
}

type session struct {
	addr, path string
	room       domain.RoomID
	nickname   string
	token      string
	text       string
	heartbeat  time.Duration
}

// run joins the room, optionally posts one message and prints every frame until ctx ends.
func (s session) run(ctx context.Context, out io.Writer) error {
	c, err := client.Dial(ctx, s.addr, s.path)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintln(out, color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" connected to %s ", s.addr)))

	if err := c.Join(s.room, s.nickname, s.token); err != nil {
		return err
	}
	if s.text != "" {
		if err := c.Message(s.room, s.nickname, s.text); err != nil {
			return err
		}
	}

	if s.heartbeat > 0 {
		go func() {
			ticker := time.NewTicker(s.heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := c.Heartbeat(); err != nil {
						return
					}
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		_ = c.Leave(s.room, s.nickname)
		_ = c.Close()
	}()

	for {
		frame, err := c.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, string(frame))
	}
}

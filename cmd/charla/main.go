package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/ncastel/charla/internal/chat"
	"github.com/ncastel/charla/internal/client"
	"github.com/ncastel/charla/internal/config"
	"github.com/ncastel/charla/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	offlineFlag := flag.Bool("offline", false, "run against an in-memory backend, nothing leaves the process")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*offlineFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var c *client.Client
	app := fx.New(
		client.Module(client.Params{
			ProfileName: profileName,
			Config:      cfg,
			Offline:     *offlineFlag,
		}),
		fx.Populate(&c),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	repl(c)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(offline bool) (*config.Config, error) {
	if offline {
		return &config.Config{
			AcceptedDomain: config.DefaultAcceptedDomain,
			Account:        config.Account{Email: "offline@gmail.com"},
		}, nil
	}
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// repl runs a line-oriented loop. Plain lines are sent to the current
// chat; /commands switch chats and manage contacts.
func repl(c *client.Client) {
	current := chat.GeneralChatID
	fmt.Printf("signed in as %s, chatting in %s\n", c.Identity().Email, current)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s] ", current)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ctx := context.Background()

		switch {
		case line == "/quit":
			return
		case line == "/contacts":
			for _, ct := range c.Contacts() {
				name, email, online := ct.DisplayName, ct.Email, ct.IsOnline
				// The roster entry is an add-time snapshot; prefer the
				// current directory record when it is reachable.
				if u, err := c.UserInfo(ctx, ct.ID); err == nil {
					name, email, online = u.DisplayName, u.Email, u.IsOnline
				}
				marker := " "
				if online {
					marker = "*"
				}
				fmt.Printf("%s %s (%s)\n", marker, name, email)
			}
		case line == "/msgs":
			for _, m := range c.Messages(current) {
				fmt.Printf("%s %s: %s\n", m.Timestamp.Format("15:04"), m.SenderName, m.Text)
			}
		case line == "/general":
			current = chat.GeneralChatID
		case strings.HasPrefix(line, "/add "):
			email := strings.TrimSpace(strings.TrimPrefix(line, "/add "))
			if _, err := c.AddContact(ctx, email); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case strings.HasPrefix(line, "/remove "):
			uid := strings.TrimSpace(strings.TrimPrefix(line, "/remove "))
			if err := c.RemoveContact(ctx, uid); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case strings.HasPrefix(line, "/open "):
			uid := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			chatID, err := c.OpenPrivateChat(ctx, uid)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			current = chatID
		default:
			_ = c.SetTyping(ctx, current, true)
			if err := c.Send(ctx, current, line); err != nil {
				fmt.Printf("error: %v\n", err)
			}
			_ = c.SetTyping(ctx, current, false)
		}
	}
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
)

const usage = `usage: chatctl [flags] <command> [args]

commands:
  status                      daemon and connection state
  presence                    currently online users
  chats                       list conversations
  messages <chat_key>         show a conversation
  open <chat_key>             mark a conversation active (clears unread)
  close <chat_key>            clear the active conversation
  unread                      unread counts per peer
  send <user_id> <text...>    queue a message
  delete <chat_key> <ts...>   delete messages locally
  delete-all <chat_key> <ts...>  delete for everyone
  friends                     list cached friends
  friends-refresh             re-fetch the friend list from the server
  befriend <user_id>          add a friend
  alias <user_id> <alias>     set a friend's display alias
  unfriend <user_id>          remove a friend
  search <query...>           full-text message search
  login <email>               log in (password read from stdin)
  logout                      log out, keeping conversation history

flags:
  -session <name>   session to talk to (default from config, then "main")
  -json             print raw JSON responses
`

type cli struct {
	http    *http.Client
	jsonOut bool
	out     io.Writer
}

func main() {
	var (
		sessionFlag string
		jsonOut     bool
	)
	args := os.Args[1:]
	// Flags may precede the command; parse them by hand so subcommand args
	// stay untouched.
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-session", "--session":
			if len(args) < 2 {
				die("missing value for -session")
			}
			sessionFlag = args[1]
			args = args[2:]
		case "-json", "--json":
			jsonOut = true
			args = args[1:]
		case "-h", "--help", "-help":
			fmt.Print(usage)
			return
		default:
			die("unknown flag %s", args[0])
		}
	}
	if len(args) == 0 {
		fmt.Print(usage)
		os.Exit(2)
	}

	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		die("%v", err)
	}
	c := &cli{
		http:    socketClient(session.SocketPath(name)),
		jsonOut: jsonOut,
		out:     os.Stdout,
	}
	if err := c.run(args[0], args[1:]); err != nil {
		die("%v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// socketClient returns an HTTP client pinned to the daemon's unix socket.
func socketClient(sockPath string) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
	}
}

func (c *cli) run(cmd string, args []string) error {
	switch cmd {
	case "status":
		return c.status()
	case "presence":
		return c.presence()
	case "chats":
		return c.chats()
	case "messages":
		if len(args) < 1 {
			return fmt.Errorf("usage: messages <chat_key>")
		}
		return c.messages(args[0])
	case "open":
		if len(args) < 1 {
			return fmt.Errorf("usage: open <chat_key>")
		}
		return c.post("/v1/conversations/"+args[0]+"/open", nil)
	case "close":
		if len(args) < 1 {
			return fmt.Errorf("usage: close <chat_key>")
		}
		return c.post("/v1/conversations/"+args[0]+"/close", nil)
	case "unread":
		return c.unread()
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <user_id> <text...>")
		}
		return c.send(args[0], strings.Join(args[1:], " "))
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: delete <chat_key> <timestamp...>")
		}
		return c.deleteMessages(args[0], args[1:], false)
	case "delete-all":
		if len(args) < 2 {
			return fmt.Errorf("usage: delete-all <chat_key> <timestamp...>")
		}
		return c.deleteMessages(args[0], args[1:], true)
	case "friends":
		return c.friends()
	case "friends-refresh":
		return c.post("/v1/friends/refresh", nil)
	case "befriend":
		if len(args) < 1 {
			return fmt.Errorf("usage: befriend <user_id>")
		}
		return c.post("/v1/friends", map[string]string{"user_id": args[0]})
	case "alias":
		if len(args) < 2 {
			return fmt.Errorf("usage: alias <user_id> <alias>")
		}
		return c.put("/v1/friends/"+args[0]+"/alias", map[string]string{"alias": args[1]})
	case "unfriend":
		if len(args) < 1 {
			return fmt.Errorf("usage: unfriend <user_id>")
		}
		return c.del("/v1/friends/" + args[0])
	case "search":
		if len(args) < 1 {
			return fmt.Errorf("usage: search <query...>")
		}
		return c.search(strings.Join(args, " "))
	case "login":
		if len(args) < 1 {
			return fmt.Errorf("usage: login <email>")
		}
		return c.login(args[0])
	case "logout":
		return c.post("/v1/logout", nil)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func (c *cli) request(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://chatd"+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is chatd running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}
	return raw, nil
}

func (c *cli) get(path string, out any) error {
	raw, err := c.request(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if c.jsonOut {
		fmt.Fprintln(c.out, string(raw))
		return errPrinted
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// errPrinted short-circuits human formatting after raw JSON output.
var errPrinted = fmt.Errorf("output already printed")

func (c *cli) emit(fn func() error) error {
	err := fn()
	if err == errPrinted {
		return nil
	}
	return err
}

func (c *cli) post(path string, body any) error {
	raw, err := c.request(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(raw))
	return nil
}

func (c *cli) put(path string, body any) error {
	raw, err := c.request(http.MethodPut, path, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(raw))
	return nil
}

func (c *cli) del(path string) error {
	raw, err := c.request(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(raw))
	return nil
}

func (c *cli) status() error {
	return c.emit(func() error {
		var resp struct {
			Session       string `json:"session"`
			State         string `json:"state"`
			LoggedIn      bool   `json:"logged_in"`
			UserID        string `json:"user_id"`
			Username      string `json:"username"`
			Conversations int64  `json:"conversations"`
			Messages      int64  `json:"messages"`
		}
		if err := c.get("/v1/status", &resp); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "session:  %s\nstate:    %s\n", resp.Session, resp.State)
		if resp.LoggedIn {
			fmt.Fprintf(c.out, "identity: %s (%s)\n", resp.Username, resp.UserID)
		} else {
			fmt.Fprintln(c.out, "identity: logged out")
		}
		fmt.Fprintf(c.out, "cache:    %d conversations, %d messages\n", resp.Conversations, resp.Messages)
		return nil
	})
}

func (c *cli) presence() error {
	return c.emit(func() error {
		var resp struct {
			Online []ws.OnlineUser `json:"online"`
		}
		if err := c.get("/v1/presence", &resp); err != nil {
			return err
		}
		if len(resp.Online) == 0 {
			fmt.Fprintln(c.out, "nobody online")
			return nil
		}
		for _, u := range resp.Online {
			fmt.Fprintf(c.out, "%s\t%s\n", u.UserID, u.Username)
		}
		return nil
	})
}

func (c *cli) chats() error {
	return c.emit(func() error {
		var resp struct {
			Conversations []store.Conversation `json:"conversations"`
		}
		if err := c.get("/v1/conversations", &resp); err != nil {
			return err
		}
		if len(resp.Conversations) == 0 {
			fmt.Fprintln(c.out, "no conversations")
			return nil
		}
		for _, conv := range resp.Conversations {
			marker := "  "
			if conv.UnreadCount > 0 {
				marker = fmt.Sprintf("%d!", conv.UnreadCount)
			}
			fmt.Fprintf(c.out, "%-3s %-40s %s\n", marker, conv.ChatKey, conv.LastMessagePreview)
		}
		return nil
	})
}

func (c *cli) messages(chatKey string) error {
	return c.emit(func() error {
		var resp struct {
			Messages []store.Message `json:"messages"`
		}
		if err := c.get("/v1/conversations/"+chatKey+"/messages", &resp); err != nil {
			return err
		}
		for _, m := range resp.Messages {
			who := m.DisplayName
			if m.FromMe {
				who = "me"
			}
			line := m.Body
			if m.HasAttachment() {
				line = fmt.Sprintf("%s [attachment: %s]", line, m.FileName)
			}
			fmt.Fprintf(c.out, "[%s] %s: %s\n", m.SentAt, who, line)
		}
		return nil
	})
}

func (c *cli) unread() error {
	return c.emit(func() error {
		var resp struct {
			Unread map[string]int `json:"unread"`
		}
		if err := c.get("/v1/unread", &resp); err != nil {
			return err
		}
		if len(resp.Unread) == 0 {
			fmt.Fprintln(c.out, "all read")
			return nil
		}
		for peer, n := range resp.Unread {
			fmt.Fprintf(c.out, "%s\t%d\n", peer, n)
		}
		return nil
	})
}

func (c *cli) send(toUserID, body string) error {
	return c.post("/v1/send", map[string]string{
		"to_user_id": toUserID,
		"body":       body,
	})
}

func (c *cli) deleteMessages(chatKey string, timestamps []string, forEveryone bool) error {
	return c.post("/v1/delete", map[string]any{
		"chat_key":     chatKey,
		"timestamps":   timestamps,
		"for_everyone": forEveryone,
	})
}

func (c *cli) friends() error {
	return c.emit(func() error {
		var resp struct {
			Friends []store.Friend `json:"friends"`
		}
		if err := c.get("/v1/friends", &resp); err != nil {
			return err
		}
		if len(resp.Friends) == 0 {
			fmt.Fprintln(c.out, "no friends cached")
			return nil
		}
		for _, f := range resp.Friends {
			fmt.Fprintf(c.out, "%s\t%s\n", f.UserID, f.DisplayName())
		}
		return nil
	})
}

func (c *cli) search(query string) error {
	return c.emit(func() error {
		var resp struct {
			Results []store.SearchResult `json:"results"`
		}
		if err := c.get("/v1/search?q="+url.QueryEscape(query), &resp); err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			fmt.Fprintln(c.out, "no matches")
			return nil
		}
		for _, r := range resp.Results {
			fmt.Fprintf(c.out, "%s [%s] %s: %s\n", r.Message.ChatKey, r.Message.SentAt, r.Message.DisplayName, r.Snippet)
		}
		return nil
	})
}

func (c *cli) login(email string) error {
	fmt.Fprint(os.Stderr, "password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	return c.post("/v1/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

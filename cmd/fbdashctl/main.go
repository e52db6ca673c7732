package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fbdash/fbdash/internal/config"
	"github.com/fbdash/fbdash/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadProfile(profile.ProfileConfigPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	c := &client{
		base: "http://" + cfg.Gateway.Listen,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "queue":
		if len(args) >= 2 && args[1] == "clear" {
			cmdQueueClear(c)
		} else {
			cmdQueue(c, *jsonFlag)
		}
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: fbdashctl send <conversation> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "flush":
		cmdFlush(c, *jsonFlag)
	case "mute":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			fmt.Fprintln(os.Stderr, "usage: fbdashctl mute <on|off>")
			os.Exit(1)
		}
		cmdMute(c, args[1] == "on")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fbdashctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                  Show daemon status")
	fmt.Fprintln(os.Stderr, "  queue                   List pending outbound messages")
	fmt.Fprintln(os.Stderr, "  queue clear             Drop every queued message")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>      Send a message (queued when offline)")
	fmt.Fprintln(os.Stderr, "  flush                   Run one queue drain pass now")
	fmt.Fprintln(os.Stderr, "  mute <on|off>           Toggle the notification sound")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is fbdashd running?): %w", c.base, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: HTTP %d", res.StatusCode)
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func die(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(c *client, jsonOut bool) {
	var st struct {
		State           string `json:"state"`
		Attempts        int    `json:"attempts"`
		LastConnectedAt int64  `json:"last_connected_at"`
		QueuePending    int    `json:"queue_pending"`
		QueueDurable    bool   `json:"queue_durable"`
		Muted           bool   `json:"muted"`
	}
	if err := c.call(http.MethodGet, "/api/status", nil, &st); err != nil {
		die(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Channel:  %s\n", st.State)
	if st.State != "CONNECTED" && st.Attempts > 0 {
		fmt.Printf("Attempts: %d\n", st.Attempts)
	}
	if st.LastConnectedAt > 0 {
		fmt.Printf("Last up:  %s\n", time.UnixMilli(st.LastConnectedAt).Format(time.RFC3339))
	}
	fmt.Printf("Pending:  %d", st.QueuePending)
	if !st.QueueDurable {
		fmt.Print(" (memory only)")
	}
	fmt.Println()
	fmt.Printf("Muted:    %v\n", st.Muted)
}

func cmdQueue(c *client, jsonOut bool) {
	var entries []struct {
		ID             int64  `json:"id"`
		ConversationID string `json:"conversation_id"`
		Body           string `json:"body"`
		CreatedAt      int64  `json:"created_at"`
	}
	if err := c.call(http.MethodGet, "/api/queue", nil, &entries); err != nil {
		die(err)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("Queue empty.")
		return
	}
	for _, e := range entries {
		fmt.Printf("#%d  %s  %s  %q\n",
			e.ID,
			time.UnixMilli(e.CreatedAt).Format("15:04:05"),
			e.ConversationID,
			e.Body)
	}
}

func cmdQueueClear(c *client) {
	if err := c.call(http.MethodDelete, "/api/queue", nil, nil); err != nil {
		die(err)
	}
	fmt.Println("Queue cleared.")
}

func cmdSend(c *client, conversationID, text string, jsonOut bool) {
	var out struct {
		Queued    bool   `json:"queued"`
		QueueID   int64  `json:"queue_id"`
		MessageID string `json:"message_id"`
	}
	body := map[string]any{"message": text}
	if err := c.call(http.MethodPost, "/api/conversations/"+conversationID+"/send", body, &out); err != nil {
		die(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	if out.Queued {
		fmt.Printf("Queued as #%d (offline; will send on reconnect)\n", out.QueueID)
	} else {
		fmt.Printf("Sent: %s\n", out.MessageID)
	}
}

func cmdFlush(c *client, jsonOut bool) {
	var counts struct {
		Before int `json:"before"`
		After  int `json:"after"`
	}
	if err := c.call(http.MethodPost, "/api/queue/flush", nil, &counts); err != nil {
		die(err)
	}
	if jsonOut {
		outputJSON(counts)
		return
	}
	fmt.Printf("Flushed %d of %d pending\n", counts.Before-counts.After, counts.Before)
}

func cmdMute(c *client, muted bool) {
	if err := c.call(http.MethodPost, "/api/mute", map[string]bool{"muted": muted}, nil); err != nil {
		die(err)
	}
	if muted {
		fmt.Println("Notification sound muted.")
	} else {
		fmt.Println("Notification sound unmuted.")
	}
}

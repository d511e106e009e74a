package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/triagedeck-io/triagedeck/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "status":
		cmdStatus()
	case "timelines":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deckctl timelines <list|show|dismiss>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTimelinesList()
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: deckctl timelines show <email-id>")
				os.Exit(1)
			}
			cmdTimelinesShow(os.Args[3])
		case "dismiss":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: deckctl timelines dismiss <email-id>")
				os.Exit(1)
			}
			cmdTimelinesDismiss(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown timelines subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deckctl tickets <list|show|types>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: deckctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "types":
			cmdTicketTypes()
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "agent":
		if len(os.Args) < 3 || (os.Args[2] != "start" && os.Args[2] != "stop") {
			fmt.Fprintln(os.Stderr, "usage: deckctl agent <start|stop>")
			os.Exit(1)
		}
		cmdAgent(os.Args[2])
	case "request":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deckctl request <text>")
			os.Exit(1)
		}
		cmdRequest(os.Args[2])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: deckctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdStatus() {
	body, err := apiGet("/api/state")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var state map[string]any
	json.Unmarshal(body, &state)
	fmt.Printf("agent:   %v\n", state["agent_status"])
	if sid, ok := state["session_id"]; ok && sid != "" {
		fmt.Printf("session: %v\n", sid)
	}
	fmt.Printf("stream:  %v\n", state["stream_state"])
	fmt.Printf("backend: up=%v\n", state["backend_up"])
}

func cmdTimelinesList() {
	body, err := apiGet("/api/timelines")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		steps, _ := e["steps"].([]any)
		marker := " "
		if flagged, _ := e["flagged_unsafe"].(bool); flagged {
			marker = "!"
		}
		fmt.Printf("%s %-30v %d steps\n", marker, e["email_id"], len(steps))
	}
}

func cmdTimelinesShow(id string) {
	body, err := apiGet("/api/timelines/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTimelinesDismiss(id string) {
	body, err := apiDo("DELETE", "/api/timelines/"+id, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	requestType := fs.String("type", "", "Filter by request type")
	fs.Parse(args)

	path := "/api/tickets"
	if *requestType != "" {
		path += "?type=" + *requestType
	}

	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		updates, _ := t["updates"].([]any)
		fmt.Printf("%-10v %-16v %-3d updates  %v\n",
			t["ado_ticket_id"], t["type_of_request"], len(updates), t["subject"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketTypes() {
	body, err := apiGet("/api/request-types")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var types []string
	json.Unmarshal(body, &types)
	for _, t := range types {
		fmt.Println(t)
	}
}

func cmdAgent(action string) {
	body, err := apiDo("POST", "/api/agent/"+action, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdRequest(text string) {
	payload, _ := json.Marshal(map[string]string{"request": text})
	body, err := apiDo("POST", "/api/requests", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp map[string]string
	json.Unmarshal(body, &resp)
	fmt.Printf("accepted, outcome tracked as timeline %s\n", resp["timeline_id"])
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%v %v %v\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path, nil)
}

func apiDo(method, path string, payload []byte) ([]byte, error) {
	base := envOr("TRIAGE_API_URL", "http://localhost:8090")
	url := base + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("TRIAGE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("deckctl - triagedeck management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                    Check daemon health")
	fmt.Println("  status                    Show agent and stream state")
	fmt.Println("  timelines list            List email workflow timelines")
	fmt.Println("  timelines show <id>       Show one timeline")
	fmt.Println("  timelines dismiss <id>    Dismiss a timeline")
	fmt.Println("  tickets list              List tickets (--type)")
	fmt.Println("  tickets show <id>         Show ticket details")
	fmt.Println("  tickets types             List known request types")
	fmt.Println("  agent <start|stop>        Control the automation agent")
	fmt.Println("  request <text>            Submit an admin request (include a ticket id)")
	fmt.Println("  logs                      Tail daemon logs (--level, --limit)")
	fmt.Println("  config validate <path>    Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TRIAGE_API_URL   Daemon URL (default: http://localhost:8090)")
	fmt.Println("  TRIAGE_API_KEY   API key for authentication")
}

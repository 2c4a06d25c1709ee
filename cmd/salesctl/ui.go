package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"salesgame/internal/game"
	"salesgame/internal/lobby"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type roomsPayload struct {
	Rooms []lobby.Room `json:"rooms"`
}

type statePayload struct {
	Room     *lobby.Room      `json:"room"`
	Snapshot *game.MatchState `json:"snapshot"`
}

type feedPayload struct {
	Feed []game.FeedEntry `json:"feed"`
}

type promptPayload struct {
	Prompt *game.Descriptor `json:"prompt"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func parseDice(arg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || v < game.MinDice || v > game.MaxDice {
		return 0, fmt.Errorf("dice must be a whole number between %d and %d", game.MinDice, game.MaxDice)
	}
	return v, nil
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func renderRooms(raw map[string]any) error {
	out, err := decodeInto[roomsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== OPEN ROOMS ==")
	if len(out.Rooms) == 0 {
		printInfo("No open rooms. Create one with `salesctl rooms create`.")
		return nil
	}
	fmt.Printf("%-38s %8s %-20s\n", "ID", "PLAYERS", "CREATED")
	for _, r := range out.Rooms {
		fmt.Printf("%-38s %8d %-20s\n",
			r.ID,
			len(r.Members),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Println()
	return nil
}

func renderSnapshot(raw map[string]any, selfID string) error {
	out, err := decodeInto[statePayload](raw)
	if err != nil {
		return err
	}
	if out.Snapshot == nil {
		if out.Room != nil {
			return renderRoster(*out.Room)
		}
		printInfo("No match state yet.")
		return nil
	}
	snap := *out.Snapshot

	accent.Printf("\n== MATCH %s (round %d/%d) ==\n", snap.RoomID, snap.Round, game.RoundLimit)
	if snap.GameOver {
		danger.Printf("GAME OVER. Winners: %s\n", strings.Join(snap.Winners, ", "))
	} else if len(snap.Players) > 0 {
		turn := snap.Players[snap.TurnIndex%len(snap.Players)]
		fmt.Printf("On turn: %s\n", turn.Name)
	}
	if snap.TurnLock {
		printWarn("A turn is resolving (" + snap.LockOwner + ").")
	}

	fmt.Printf("%-14s %-4s %12s %4s %4s %6s %5s %5s %4s %4s %8s\n",
		"PLAYER", "", "CASH", "POS", "LAP", "COMMON", "FIELD", "INSID", "MGR", "ERP", "LOAN")
	for _, p := range snap.Players {
		marker := ""
		if p.ID == selfID {
			marker = "you"
		}
		loan := "-"
		if p.LoanPending != nil && !p.LoanPending.Charged {
			loan = formatCash(p.LoanPending.Amount)
		}
		name := truncate(p.Name, 14)
		if p.Bankrupt {
			name = danger.Sprint(name)
		}
		fmt.Printf("%-14s %-4s %12s %4d %4d %6d %5d %5d %4d %4s %8s\n",
			name, marker, formatCash(p.Cash), p.Pos, p.Lap,
			p.CommonSellers, p.FieldSales, p.InsideSales, p.Managers,
			string(p.ERPLevel), loan,
		)
	}
	fmt.Println()
	return nil
}

func renderRoster(room lobby.Room) error {
	accent.Printf("\n== ROOM %s ==\n", room.ID)
	fmt.Printf("%-14s %-8s %-6s\n", "PLAYER", "COLOR", "READY")
	for _, m := range room.Members {
		ready := "no"
		if m.Ready {
			ready = "yes"
		}
		host := ""
		if m.PlayerID == room.HostID {
			host = " (host)"
		}
		fmt.Printf("%-14s %-8s %-6s%s\n", truncate(m.Name, 14), m.Color, ready, host)
	}
	fmt.Println()
	return nil
}

func renderFeed(raw map[string]any) error {
	out, err := decodeInto[feedPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== ACTIVITY ==")
	if len(out.Feed) == 0 {
		printInfo("Nothing has happened yet.")
		return nil
	}
	for _, entry := range out.Feed {
		fmt.Printf("%-8s %s\n", entry.At.Local().Format(time.Kitchen), entry.Text)
	}
	fmt.Println()
	return nil
}

func renderPrompt(raw map[string]any) error {
	out, err := decodeInto[promptPayload](raw)
	if err != nil {
		return err
	}
	if out.Prompt == nil {
		printInfo("No pending prompt.")
		return nil
	}
	d := *out.Prompt
	accent.Printf("\n== PROMPT %s ==\n", d.Kind)
	if d.Category != "" {
		fmt.Printf("Category: %s\n", d.Category)
	}
	if len(d.Data) > 0 {
		body, err := json.MarshalIndent(d.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
	}
	printInfo("Answer with `salesctl prompt resolve <action>`.")
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func formatCash(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "$" + comma(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "salesgame/internal/cli"
	"salesgame/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "salesctl",
		Short:        "Sales Game CLI client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newRoomsCmd(&apiBase),
		newStateCmd(&apiBase),
		newFeedCmd(&apiBase),
		newRollCmd(&apiBase),
		newPromptCmd(&apiBase),
		newBankruptCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func currentSession() (cl.Session, error) {
	s, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("not logged in, run `salesctl login` first")
	}
	return s, nil
}

// roomArg resolves the room id from the positional argument or the one
// remembered in the session.
func roomArg(args []string, s cl.Session) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if s.RoomID != "" {
		return s.RoomID, nil
	}
	return "", fmt.Errorf("no room id given and none remembered, pass one or join a room")
}

func rememberRoom(s cl.Session, roomID string) {
	s.RoomID = roomID
	if err := cl.SaveSession(s); err != nil {
		printWarn("could not remember room: " + err.Error())
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Register a player identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Register(ctx, name)
			if err != nil {
				return err
			}
			session := cl.Session{
				Token:    stringField(out, "token"),
				PlayerID: stringField(out, "player_id"),
				Name:     stringField(out, "name"),
			}
			if session.Token == "" {
				return fmt.Errorf("server returned no token")
			}
			if err := cl.SaveSession(session); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s. Session saved.", session.Name))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Session cleared.")
			return nil
		},
	}
}

func newRoomsCmd(apiBase *string) *cobra.Command {
	rooms := &cobra.Command{
		Use:   "rooms",
		Short: "Create, list, join and start rooms",
	}

	rooms.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a room and become its host",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).CreateRoom(ctx, s.Token)
			if err != nil {
				return err
			}
			roomID := stringField(out, "id")
			rememberRoom(s, roomID)
			printSuccess("Room created: " + roomID)
			return nil
		},
	})

	rooms.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).ListRooms(ctx, s.Token)
			if err != nil {
				return err
			}
			return renderRooms(out)
		},
	})

	rooms.AddCommand(&cobra.Command{
		Use:   "join <room-id>",
		Short: "Join an open room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).JoinRoom(ctx, s.Token, args[0])
			if err != nil {
				return err
			}
			rememberRoom(s, stringField(out, "id"))
			printSuccess("Joined room " + args[0])
			return nil
		},
	})

	rooms.AddCommand(&cobra.Command{
		Use:   "ready [room-id]",
		Short: "Mark yourself ready",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase).Ready(ctx, s.Token, roomID, true); err != nil {
				return err
			}
			printSuccess("Ready.")
			return nil
		},
	})

	rooms.AddCommand(&cobra.Command{
		Use:   "start [room-id]",
		Short: "Start the match (host only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).StartRoom(ctx, s.Token, roomID)
			if err != nil {
				return err
			}
			printSuccess("Match started.")
			return renderSnapshot(out, s.PlayerID)
		},
	})

	return rooms
}

func newStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state [room-id]",
		Short: "Show the current match state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).RoomState(ctx, s.Token, roomID)
			if err != nil {
				return err
			}
			return renderSnapshot(out, s.PlayerID)
		},
	}
}

func newFeedCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "feed [room-id]",
		Short: "Show the match activity feed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).RoomFeed(ctx, s.Token, roomID)
			if err != nil {
				return err
			}
			return renderFeed(out)
		},
	}
}

func newRollCmd(apiBase *string) *cobra.Command {
	var fortune int64
	cmd := &cobra.Command{
		Use:   "roll <dice> [room-id]",
		Short: "Take your turn with a dice value of 1-6",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			dice, err := parseDice(args[0])
			if err != nil {
				return err
			}
			roomID, err := roomArg(args[1:], s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Roll(ctx, s.Token, roomID, dice, fortune, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Rolled %d.", dice))
			return renderSnapshot(out, s.PlayerID)
		},
	}
	cmd.Flags().Int64Var(&fortune, "fortune", 0, "flat cash bonus applied with the roll")
	return cmd
}

func newPromptCmd(apiBase *string) *cobra.Command {
	prompt := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect and answer the pending prompt",
	}

	prompt.AddCommand(&cobra.Command{
		Use:   "show [room-id]",
		Short: "Show the pending prompt, if any",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).PendingPrompt(ctx, s.Token, roomID)
			if err != nil {
				return err
			}
			return renderPrompt(out)
		},
	})

	resolve := &cobra.Command{
		Use:   "resolve <action> [room-id]",
		Short: "Answer the pending prompt (BUY, HIRE, SKIP, OK, LOAN, ...)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args[1:], s)
			if err != nil {
				return err
			}
			resolution := map[string]any{"action": strings.ToUpper(strings.TrimSpace(args[0]))}
			for _, extra := range resolutionExtras(cmd) {
				resolution[extra.key] = extra.value
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).ResolvePrompt(ctx, s.Token, roomID, resolution)
			if err != nil {
				return err
			}
			printSuccess("Prompt resolved.")
			return renderSnapshot(out, s.PlayerID)
		},
	}
	resolve.Flags().String("tier", "", "tier for an ERP or product-mix purchase")
	resolve.Flags().String("role", "", "staff role for hires, trainings and layoffs")
	resolve.Flags().String("cert", "", "training certificate id")
	resolve.Flags().Int64("qty", 0, "headcount for hires and layoffs")
	resolve.Flags().Int64("amount", 0, "loan amount")
	resolve.Flags().Int64("cost", 0, "declared cost for a direct purchase")
	prompt.AddCommand(resolve)

	return prompt
}

func newBankruptCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bankrupt [room-id]",
		Short: "Declare bankruptcy and leave the rotation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentSession()
			if err != nil {
				return err
			}
			roomID, err := roomArg(args, s)
			if err != nil {
				return err
			}
			confirm, err := promptChoice("Really declare bankruptcy?", []string{"yes", "no"}, "no")
			if err != nil {
				return err
			}
			if confirm != "yes" {
				printInfo("Aborted.")
				return nil
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).DeclareBankruptcy(ctx, s.Token, roomID)
			if err != nil {
				return err
			}
			printWarn("You are out of the game.")
			return renderSnapshot(out, s.PlayerID)
		},
	}
}

type resolutionExtra struct {
	key   string
	value any
}

func resolutionExtras(cmd *cobra.Command) []resolutionExtra {
	var out []resolutionExtra
	if v, _ := cmd.Flags().GetString("tier"); strings.TrimSpace(v) != "" {
		out = append(out, resolutionExtra{"tier", strings.ToUpper(strings.TrimSpace(v))})
	}
	if v, _ := cmd.Flags().GetString("role"); strings.TrimSpace(v) != "" {
		out = append(out, resolutionExtra{"role", strings.TrimSpace(v)})
	}
	if v, _ := cmd.Flags().GetString("cert"); strings.TrimSpace(v) != "" {
		out = append(out, resolutionExtra{"cert", strings.TrimSpace(v)})
	}
	if v, _ := cmd.Flags().GetInt64("qty"); v != 0 {
		out = append(out, resolutionExtra{"qty", v})
	}
	if v, _ := cmd.Flags().GetInt64("amount"); v != 0 {
		out = append(out, resolutionExtra{"amount", v})
	}
	if v, _ := cmd.Flags().GetInt64("cost"); v != 0 {
		out = append(out, resolutionExtra{"cost", v})
	}
	return out
}

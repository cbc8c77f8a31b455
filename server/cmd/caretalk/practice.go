package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"care-talk/server/internal/model"
	"care-talk/server/internal/orchestrator"
)

var practiceCmd = &cobra.Command{
	Use:   "practice <scenario>",
	Short: "Practice a scenario in the terminal",
	Long: `Interaktive Übung im Terminal. Befehle:
  /hint      aktuelles Gesprächsziel und Hinweise anzeigen
  /use N     Vorschlag N übernehmen (nach zwei Fehlversuchen)
  /restart   Gespräch neu beginnen
  /quit      beenden`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			log.SetOutput(io.Discard)
		}

		a, err := newApp(cfg, nil, false)
		if err != nil {
			return err
		}
		orch, err := a.manager.Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		r := &repl{orch: orch, out: cmd.OutOrStdout()}
		return r.run(cmd, bufio.NewScanner(cmd.InOrStdin()))
	},
}

func init() {
	practiceCmd.Flags().Bool("verbose", false, "Print component logs")
}

type repl struct {
	orch *orchestrator.Orchestrator
	out  io.Writer
	// pending 选用的建议句子，空行回车时发送
	pending string
}

func (r *repl) run(cmd *cobra.Command, in *bufio.Scanner) error {
	r.intro()
	for {
		fmt.Fprint(r.out, "> ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" && r.pending != "" {
			line, r.pending = r.pending, ""
			fmt.Fprintf(r.out, "> %s\n", line)
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/hint":
			r.hint()
		case line == "/restart":
			if _, err := r.orch.Restart(cmd.Context()); err != nil {
				return err
			}
			r.pending = ""
			fmt.Fprintln(r.out, "↺ Gespräch neu gestartet.")
			r.intro()
		case strings.HasPrefix(line, "/use"):
			r.use(cmd, strings.TrimSpace(strings.TrimPrefix(line, "/use")))
		default:
			if err := r.submit(cmd, line); err != nil {
				return err
			}
		}
	}
}

func (r *repl) intro() {
	sc := r.orch.Scenario()
	state := r.orch.Snapshot()
	fmt.Fprintf(r.out, "== %s ==\n%s\n", sc.Title, sc.Description)
	fmt.Fprintf(r.out, "Gegenüber: %s (%s)\n", state.Profile.Name, state.Profile.Role)
	r.goal(state)
}

func (r *repl) goal(state *model.SessionState) {
	if idx := state.Checkpoints.Current(); idx >= 0 {
		fmt.Fprintf(r.out, "Ziel %d/%d: %s\n", idx+1, len(state.Checkpoints), state.Checkpoints[idx].Description)
	}
}

func (r *repl) hint() {
	state := r.orch.Snapshot()
	r.goal(state)
	printEscalation(r.out, &state.Escalation)
}

func (r *repl) use(cmd *cobra.Command, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		fmt.Fprintln(r.out, "Verwendung: /use N")
		return
	}
	res, err := r.orch.UseSuggestion(cmd.Context(), n-1)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNotBlocked), errors.Is(err, orchestrator.ErrNoSuggestion):
			fmt.Fprintln(r.out, "Kein Vorschlag verfügbar.")
		default:
			fmt.Fprintf(r.out, "Fehler: %v\n", err)
		}
		return
	}
	r.pending = res.Phrase
	fmt.Fprintf(r.out, "✓ Übernommen: %q (Enter zum Senden)\n", res.Phrase)
	if res.Completion != "" {
		fmt.Fprintf(r.out, "🎉 %s\n", res.Completion)
	}
	r.goal(res.State)
}

func (r *repl) submit(cmd *cobra.Command, text string) error {
	res, err := r.orch.Submit(cmd.Context(), text)
	switch {
	case errors.Is(err, orchestrator.ErrBlankInput):
		return nil
	case err != nil:
		return err
	}

	if res.Feedback != "" {
		fmt.Fprintf(r.out, "📝 %s\n", res.Feedback)
	}
	if res.CheckpointCompleted {
		fmt.Fprintf(r.out, "✓ Ziel %d erreicht\n", res.CheckpointIndex+1)
	}
	if res.Escalation != nil {
		printEscalation(r.out, res.Escalation)
		return nil
	}
	if res.ReplyTurn != nil {
		fmt.Fprintf(r.out, "%s: %s\n", res.State.Profile.Name, res.ReplyTurn.Text)
	}
	if res.Notice != "" {
		fmt.Fprintf(r.out, "⚠️ %s\n", res.Notice)
	}
	if res.Completion != "" {
		fmt.Fprintf(r.out, "🎉 %s\n", res.Completion)
	}
	if res.DialogueEnded != "" {
		fmt.Fprintf(r.out, "🏁 %s\n", res.DialogueEnded)
	}
	if res.Completion == "" {
		r.goal(res.State)
	}
	return nil
}

func printEscalation(out io.Writer, esc *model.Escalation) {
	if !esc.Active() {
		return
	}
	fmt.Fprintf(out, "💡 %s\n", esc.Guidance)
	for i, s := range esc.Suggestions {
		fmt.Fprintf(out, "   %d) %s\n", i+1, s)
	}
}

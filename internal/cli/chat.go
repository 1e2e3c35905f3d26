package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fathoni/rudder/pkg/commandqueue"
	"github.com/fathoni/rudder/pkg/executor"
	"github.com/fathoni/rudder/pkg/provider"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Run one message through the agent, or start an interactive session
when no message is given. Type /quit to leave the interactive session.`,
	RunE: runChat,
}

var showPlan bool

func init() {
	chatCmd.Flags().BoolVar(&showPlan, "show-plan", false, "print the plan before execution")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conversationID := uuid.New().String()

	if len(args) > 0 {
		result, err := runTurn(ctx, a, conversationID, strings.Join(args, " "), nil)
		if err != nil {
			return err
		}
		fmt.Println(result.Response)
		return nil
	}

	fmt.Println("Interactive session. /quit to exit.")
	var history []provider.Message
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		result, err := runTurn(ctx, a, conversationID, line, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(result.Response)

		history = append(history,
			provider.Message{Role: "user", Content: line},
			provider.Message{Role: "assistant", Content: result.Response},
		)
	}
}

// runTurn enqueues one user turn on the conversation's lane. Duplicate
// submissions of the same turn return the cached result.
func runTurn(ctx context.Context, a *app, conversationID, utterance string, history []provider.Message) (*executor.RunResult, error) {
	turnKey := fmt.Sprintf("%s:%s", conversationID, utterance)

	value, err := a.queue.EnqueueDeduped(ctx, commandqueue.ConversationLane(conversationID), turnKey,
		func(taskCtx context.Context) (interface{}, error) {
			return a.exec.Run(taskCtx, conversationID, utterance, history)
		}, nil)
	if err != nil {
		return nil, err
	}

	result, ok := value.(*executor.RunResult)
	if !ok {
		return nil, fmt.Errorf("unexpected task result %T", value)
	}
	return result, nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMessageCmd создаёт группу команд для сообщений.
func NewMessageCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and read messages",
	}

	cmd.AddCommand(
		newMessageSendCmd(clientFn, outputFn),
		newMessageListCmd(clientFn, outputFn),
	)

	return cmd
}

var messageHeaders = []string{"ID", "ROOM", "SENDER", "TYPE", "CONTENT", "SENT_AT"}

func messageRow(m MessageResponse) []string {
	return []string{m.ID, m.RoomID, m.SenderID, m.Type, string(m.Content), shortTime(m.SentAt)}
}

func newMessageSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req SendMessageRequest
	var content contentFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := content.build()
			if err != nil {
				return err
			}
			req.Content = body
			req.MessageType = content.msgType

			msg, err := client.SendMessage(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Message sent: %s", msg.ID))
			out.Print(messageHeaders, [][]string{messageRow(*msg)}, msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.RoomID, "room", "", "Room ID (required)")
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "Channel ID")
	cmd.Flags().StringVar(&req.SenderID, "sender", "", "Sender ID (required)")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Drop the message if this key was already used")
	cmd.Flags().StringVar(&content.msgType, "type", "text", "Message type")
	cmd.Flags().StringVar(&content.text, "text", "", "Text content")
	cmd.Flags().StringVar(&content.content, "content", "", "Raw JSON content")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("sender")

	return cmd
}

func newMessageListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list ROOM_ID",
		Short: "List recent messages of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			msgs, err := client.ListMessages(args[0], limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(msgs))
			for i, m := range msgs {
				rows[i] = messageRow(m)
			}
			out.Print(messageHeaders, rows, msgs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages")

	return cmd
}

// NewPresenceCmd создаёт команду просмотра присутствия в комнате.
func NewPresenceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "presence ROOM_ID",
		Short: "Show open sessions of a room across gateways",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.RoomPresence(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(p.SessionIDs))
			for i, id := range p.SessionIDs {
				rows[i] = []string{p.RoomID, id}
			}
			out.Print([]string{"ROOM", "SESSION"}, rows, p)
			return nil
		},
	}
}

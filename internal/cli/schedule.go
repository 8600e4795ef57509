package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления правилами расписания.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled messages",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var scheduleHeaders = []string{"ID", "ROOM", "KIND", "STATUS", "WHEN", "RUNS", "NEXT_FIRE"}

func scheduleRow(s ScheduleResponse) []string {
	return []string{s.ID, s.RoomID, s.Kind, s.Status, scheduleWhen(s), scheduleRuns(s), shortTime(s.NextFireAt)}
}

func scheduleWhen(s ScheduleResponse) string {
	if s.CronExpr != "" {
		return s.CronExpr
	}
	return shortTime(s.TriggerAt)
}

// scheduleRuns "выполнено/лимит" или только счётчик для неограниченных правил.
func scheduleRuns(s ScheduleResponse) string {
	runs := strconv.Itoa(s.ExecutionCount)
	if s.MaxExecutions != nil {
		runs += "/" + strconv.Itoa(*s.MaxExecutions)
	}
	return runs
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListSchedulesOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedules, err := client.ListSchedules(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = scheduleRow(s)
			}

			out.Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RoomID, "room", "", "Filter by room ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, ACTIVE, EXECUTED, CANCELLED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of schedules")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateScheduleRequest
	var content contentFlags
	var at string
	var in time.Duration
	var maxRuns int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a one-time or recurring message",
		Example: `  chatctl schedule create --room R1 --sender bot --text "standup" --cron "0 9 * * 1-5" --timezone Asia/Seoul
  chatctl schedule create --room R1 --sender bot --text "ping" --in 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			body, err := content.build()
			if err != nil {
				return err
			}
			req.Content = body
			req.MessageType = content.msgType

			triggerAt, err := resolveTrigger(at, in, time.Now())
			if err != nil {
				return err
			}
			req.TriggerAt = triggerAt
			if cmd.Flags().Changed("max-runs") {
				req.MaxExecutions = &maxRuns
			}

			schedule, err := client.CreateSchedule(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			out.Print(scheduleHeaders, [][]string{scheduleRow(*schedule)}, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.RoomID, "room", "", "Room ID (required)")
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "Channel ID")
	cmd.Flags().StringVar(&req.SenderID, "sender", "", "Sender ID (required)")
	cmd.Flags().StringVar(&content.msgType, "type", "text", "Message type")
	cmd.Flags().StringVar(&content.text, "text", "", "Text content")
	cmd.Flags().StringVar(&content.content, "content", "", "Raw JSON content")
	cmd.Flags().StringVar(&at, "at", "", "Fire once at RFC3339 time")
	cmd.Flags().DurationVar(&in, "in", 0, "Fire once after duration (e.g. 10m)")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression for recurring delivery")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "Timezone for --cron (e.g. 'Asia/Seoul')")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop a recurring schedule after N deliveries")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("sender")
	cmd.MarkFlagsMutuallyExclusive("at", "in", "cron")
	cmd.MarkFlagsOneRequired("at", "in", "cron")

	return cmd
}

// resolveTrigger переводит --at / --in в момент срабатывания. nil для --cron.
func resolveTrigger(at string, in time.Duration, now time.Time) (*time.Time, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		return &t, nil
	case in > 0:
		t := now.Add(in).UTC()
		return &t, nil
	case in < 0:
		return nil, errors.New("--in must be positive")
	default:
		return nil, nil
	}
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedule, err := client.GetSchedule(args[0])
			if err != nil {
				return err
			}

			out.Detail([]Field{
				{"ID", schedule.ID},
				{"Room", schedule.RoomID},
				{"Sender", schedule.SenderID},
				{"Type", schedule.MessageType},
				{"Content", string(schedule.Content)},
				{"Kind", schedule.Kind},
				{"Status", schedule.Status},
				{"When", scheduleWhen(*schedule)},
				{"Timezone", schedule.Timezone},
				{"Runs", scheduleRuns(*schedule)},
				{"Next fire", shortTime(schedule.NextFireAt)},
				{"Last executed", shortTime(schedule.LastExecutedAt)},
				{"Last error", schedule.LastError},
			}, schedule)
			return nil
		},
	}
}

func newScheduleCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if _, err := client.CancelSchedule(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule cancelled: %s", args[0]))
			return nil
		},
	}
}

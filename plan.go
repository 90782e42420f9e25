package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/applog"
)

var (
	planExecute bool
	planWait    bool
	planTimeout time.Duration
	planAgents  []string
	plansJSON   bool
)

var planCmd = &cobra.Command{
	Use:   "plan <description>",
	Short: "Turn a description into a structured task without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd.Context(), strings.Join(args, " "))
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <task-id>",
	Short: "Run a planned task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecute(cmd.Context(), args[0])
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List planned tasks and created agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlans(cmd.Context())
	},
}

func init() {
	planCmd.Flags().BoolVar(&planExecute, "execute", false, "run the task as soon as it is planned")
	planCmd.Flags().StringSliceVar(&planAgents, "agent", nil, "limit which agents may be assigned (repeatable)")
	for _, c := range []*cobra.Command{planCmd, executeCmd} {
		c.Flags().BoolVar(&planWait, "wait", false, "follow the execution until it completes or fails")
		c.Flags().DurationVar(&planTimeout, "timeout", 30*time.Minute, "give up waiting after this long")
	}
	plansCmd.Flags().BoolVar(&plansJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(planCmd, executeCmd, plansCmd)
}

func runPlan(ctx context.Context, description string) error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := api.New(e.prefs.Current().APIURL, e.cfg.Service.RequestTimeout())
	if err != nil {
		return err
	}
	plan, err := client.CreateTaskPlan(ctx, description, planAgents, e.cfg.Service.UserID)
	if err != nil {
		return fmt.Errorf("plan task: %w", err)
	}
	printPlan(plan)
	if !planExecute {
		fmt.Printf("\nRun it with: agent-dashboard execute %s\n", plan.TaskID)
		return nil
	}
	return execute(ctx, e, client, plan.TaskID)
}

func runExecute(ctx context.Context, id string) error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := api.New(e.prefs.Current().APIURL, e.cfg.Service.RequestTimeout())
	if err != nil {
		return err
	}
	return execute(ctx, e, client, id)
}

func execute(ctx context.Context, e *env, client *api.Client, id string) error {
	var w *taskWatch
	if planWait {
		var err error
		if w, err = watchTasks(e, client); err != nil {
			return err
		}
		defer w.Close()
	}

	started, err := client.ExecuteTask(ctx, id)
	if err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("no planned task %s", id)
		}
		return fmt.Errorf("execute task: %w", err)
	}
	fmt.Printf("%s %s\n", color.GreenString("Execution started:"), started.ExecutionTaskID)
	if w == nil {
		return nil
	}
	return w.follow(ctx, started.ExecutionTaskID, planTimeout)
}

func printPlan(p *api.TaskPlan) {
	fmt.Printf("%s %s\n", color.GreenString("Task planned:"), p.TaskID)
	fmt.Printf("  %-12s %s\n", "Name", p.Name)
	fmt.Printf("  %-12s %s\n", "Agent", color.CyanString(p.Agent))
	fmt.Printf("  %-12s %d (%s)\n", "Priority", p.Priority, p.Complexity)
	if p.ExpectedOutput != "" {
		fmt.Printf("  %-12s %s\n", "Output", p.ExpectedOutput)
	}
	for _, c := range p.SuccessCriteria {
		fmt.Printf("  %-12s %s\n", "Criterion", c)
	}
	for _, d := range p.Deliverables {
		fmt.Printf("  %-12s %s\n", "Deliverable", d)
	}
}

func runPlans(ctx context.Context) error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := api.New(e.prefs.Current().APIURL, e.cfg.Service.RequestTimeout())
	if err != nil {
		return err
	}
	plans, err := client.ListCreatedTasks(ctx)
	if err != nil {
		return fmt.Errorf("list planned tasks: %w", err)
	}
	agents, err := client.ListCreatedAgents(ctx)
	if err != nil {
		return fmt.Errorf("list created agents: %w", err)
	}

	if plansJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"tasks":  plans,
			"agents": agents,
		})
	}

	fmt.Printf("=== Planned Tasks (%d) ===\n", len(plans))
	for _, p := range plans {
		fmt.Printf("  %-10s %-16s p%d  %s\n", shortTaskID(p.TaskID), color.CyanString(p.Agent), p.Priority, p.Name)
	}
	fmt.Printf("\n=== Created Agents (%d) ===\n", len(agents))
	for _, a := range agents {
		fmt.Printf("  %-10s %-24s %s\n", shortTaskID(a.AgentID), a.Name, a.Role)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/core/domain"
	"github.com/kirillkom/xpense/internal/infrastructure/xpenseapi"
)

// clientCommand builds a leaf command whose body only needs an API client.
func clientCommand(cfg config.Config, opts *globalOptions, use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd, cfg)
			if err != nil {
				return err
			}
			return run(cmd, client, args)
		},
	}
}

func newTeamCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Manage the teams you lead or belong to"}
	cmd.AddCommand(
		clientCommand(cfg, opts, "list", "List your teams", cobra.NoArgs,
			func(cmd *cobra.Command, client *xpenseapi.Client, _ []string) error {
				teams, err := client.ListTeams(cmd.Context())
				if err != nil {
					return err
				}
				renderTeams(cmd.OutOrStdout(), teams)
				return nil
			}),
		clientCommand(cfg, opts, "show <team-id>", "Show one team", cobra.ExactArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				team, err := client.GetTeam(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), team)
			}),
		clientCommand(cfg, opts, "create <name>", "Create a team led by you", cobra.MinimumNArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				team, err := client.CreateTeam(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "team %s created\n", team.ID)
				return nil
			}),
		clientCommand(cfg, opts, "rename <team-id> <name>", "Rename a team you lead", cobra.MinimumNArgs(2),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				team, err := client.RenameTeam(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "team %s is now %q\n", team.ID, team.Name)
				return nil
			}),
		clientCommand(cfg, opts, "add <team-id> <user-id>", "Add a member to a team you lead", cobra.ExactArgs(2),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				team, err := client.AddTeamMember(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "team %s has %d members\n", team.ID, len(team.Members))
				return nil
			}),
		clientCommand(cfg, opts, "remove <team-id> <user-id>", "Remove a member from a team you lead", cobra.ExactArgs(2),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				team, err := client.RemoveTeamMember(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "team %s has %d members\n", team.ID, len(team.Members))
				return nil
			}),
	)
	return cmd
}

func newGroupCommand(cfg config.Config, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Manage expense groups and invites"}
	cmd.AddCommand(
		clientCommand(cfg, opts, "list", "List groups you created or joined", cobra.NoArgs,
			func(cmd *cobra.Command, client *xpenseapi.Client, _ []string) error {
				groups, err := client.ListGroups(cmd.Context())
				if err != nil {
					return err
				}
				renderGroups(cmd.OutOrStdout(), groups)
				return nil
			}),
		clientCommand(cfg, opts, "show <group-id>", "Show one group", cobra.ExactArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				group, err := client.GetGroup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), group)
			}),
		clientCommand(cfg, opts, "create <name>", "Create a group", cobra.MinimumNArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				group, err := client.CreateGroup(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %s created\n", group.ID)
				return nil
			}),
		clientCommand(cfg, opts, "rename <group-id> <name>", "Rename a group you created", cobra.MinimumNArgs(2),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				group, err := client.RenameGroup(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %s is now %q\n", group.ID, group.Name)
				return nil
			}),
		clientCommand(cfg, opts, "invite <group-id> <user-id>", "Invite someone to a group", cobra.ExactArgs(2),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				if _, err := client.InviteGroupMember(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invited %s to %s\n", args[1], args[0])
				return nil
			}),
		clientCommand(cfg, opts, "invites", "List your pending invites", cobra.NoArgs,
			func(cmd *cobra.Command, client *xpenseapi.Client, _ []string) error {
				invites, err := client.ListInvites(cmd.Context())
				if err != nil {
					return err
				}
				if len(invites) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no pending invites")
					return nil
				}
				for _, inv := range invites {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tinvited by %s\n", inv.GroupID, inv.GroupName, inv.InvitedBy)
				}
				return nil
			}),
		clientCommand(cfg, opts, "accept <group-id>", "Accept an invite", cobra.ExactArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				group, err := client.AcceptInvite(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "joined %s\n", group.Name)
				return nil
			}),
		clientCommand(cfg, opts, "reject <group-id>", "Decline an invite", cobra.ExactArgs(1),
			func(cmd *cobra.Command, client *xpenseapi.Client, args []string) error {
				if err := client.RejectInvite(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "declined %s\n", args[0])
				return nil
			}),
	)
	return cmd
}

func renderTeams(w io.Writer, teams []domain.Team) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Leader", "Members"})
	table.SetBorder(false)
	for _, t := range teams {
		table.Append([]string{t.ID, t.Name, t.LeaderID, strconv.Itoa(len(t.Members))})
	}
	table.Render()
}

func renderGroups(w io.Writer, groups []domain.Group) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Creator", "Accepted", "Pending"})
	table.SetBorder(false)
	for _, g := range groups {
		accepted := len(g.AcceptedMembers())
		table.Append([]string{g.ID, g.Name, g.CreatedBy, strconv.Itoa(accepted), strconv.Itoa(len(g.Members) - accepted)})
	}
	table.Render()
}

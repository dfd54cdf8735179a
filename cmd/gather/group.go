package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/store/db"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:     "group",
	GroupID: "data",
	Short:   "Create, list and manage groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Long: `Create a group. The owner (--owner, default $GATHER_USER or $USER) is
added as an admin member.

Examples:
  gather group create "Hiking Club"
  gather group create "Book Club" --owner alice`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		name := strings.Join(args, " ")

		database := openStore()
		defer database.Close()

		g, err := newOrganizer(database).CreateGroup(context.Background(), owner, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating group: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created group %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(g.Name), ui.RenderMuted(fmt.Sprintf("(id %d)", g.ID)))
	},
}

var groupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List groups",
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()

		groups, err := newOrganizer(database).Groups(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing groups: %v\n", err)
			os.Exit(1)
		}

		if len(groups) == 0 {
			fmt.Printf("%s No groups yet. Create one with 'gather group create <name>'\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Print(groupTable(groups))
	},
}

var groupMemberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage group members",
}

var groupMemberAddCmd = &cobra.Command{
	Use:   "add <group-id> <user>",
	Short: "Add a member to a group",
	Long: `Add a member to a group, or change the role of an existing member.
When the user has a local account, the group is recorded on it too.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		groupID := parseGroupID(args[0])
		role, _ := cmd.Flags().GetString("role")

		database := openStore()
		defer database.Close()

		err := newOrganizer(database).AddMember(context.Background(), groupID, args[1], models.Role(role))
		if err != nil {
			reportStoreError("adding member", groupID, err)
			os.Exit(1)
		}

		fmt.Printf("%s Added %s to group %d as %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[1]), groupID, role)
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group with its members and events",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		groupID := parseGroupID(args[0])

		database := openStore()
		defer database.Close()

		if err := newOrganizer(database).DeleteGroup(context.Background(), groupID); err != nil {
			reportStoreError("deleting group", groupID, err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted group %d\n", ui.RenderPass("✓"), groupID)
	},
}

func groupTable(groups []*models.Group) string {
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{
			strconv.FormatInt(g.ID, 10),
			g.Name,
			strings.Join(g.MemberNames(), ", "),
			g.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return ui.Table([]string{"ID", "NAME", "MEMBERS", "CREATED"}, rows)
}

// parseGroupID parses a group id argument or exits.
func parseGroupID(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid group id %q\n", s)
		os.Exit(1)
	}
	return id
}

func reportStoreError(action string, groupID int64, err error) {
	if errors.Is(err, db.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error %s: group %d not found\n", action, groupID)
		return
	}
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
}

func init() {
	groupCreateCmd.Flags().String("owner", defaultUser(), "user added as the group's admin")
	groupMemberAddCmd.Flags().String("role", string(models.RoleMember), "member role: admin or member")

	groupMemberCmd.AddCommand(groupMemberAddCmd)
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupMemberCmd, groupDeleteCmd)
	rootCmd.AddCommand(groupCmd)
}

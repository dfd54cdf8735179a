package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/organizer"
	"github.com/gatherapp/gather/internal/ui"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	GroupID: "data",
	Short:   "Add and list events",
}

var eventAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an event to a group",
	Long: `Add an event to a group. All fields are required; missing ones are
prompted for. Dates accept YYYY-MM-DD or phrases like "next friday".

Events added here are stored locally only. To send an event to a peer,
add it from the "gather serve" prompt while a peer is connected, or carry
it over with "gather spool export".

Example:
  gather event add --group 1 --title "Trailhead Meetup" --date 2024-05-01 \
    --location "Park Gate" --description "Bring water"`,
	Run: func(cmd *cobra.Command, args []string) {
		groupID, _ := cmd.Flags().GetInt64("group")
		if groupID <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --group is required\n")
			os.Exit(1)
		}

		var fields models.EventFields
		fields.Title, _ = cmd.Flags().GetString("title")
		fields.Date, _ = cmd.Flags().GetString("date")
		fields.Location, _ = cmd.Flags().GetString("location")
		fields.Description, _ = cmd.Flags().GetString("description")

		if err := promptEventFields(&fields); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		database := openStore()
		defer database.Close()

		res, err := newOrganizer(database).AddEvent(context.Background(), groupID, fields)
		if err != nil {
			reportStoreError("adding event", groupID, err)
			os.Exit(1)
		}
		printAddResult(res)
	},
}

var eventListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List a group's events",
	Run: func(cmd *cobra.Command, args []string) {
		groupID, _ := cmd.Flags().GetInt64("group")
		if groupID <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --group is required\n")
			os.Exit(1)
		}

		database := openStore()
		defer database.Close()

		events, err := newOrganizer(database).Events(context.Background(), groupID)
		if err != nil {
			reportStoreError("listing events", groupID, err)
			os.Exit(1)
		}

		if len(events) == 0 {
			fmt.Printf("%s No events in group %d\n", ui.RenderWarn("⚠"), groupID)
			return
		}
		fmt.Print(eventTable(events))
	},
}

// promptEventFields asks for every empty field.
func promptEventFields(f *models.EventFields) error {
	var fields []huh.Field
	add := func(title, placeholder string, value *string) {
		if *value != "" {
			return
		}
		fields = append(fields, huh.NewInput().
			Title(title).
			Placeholder(placeholder).
			Value(value).
			Validate(required(title)))
	}
	add("Title", "Trailhead Meetup", &f.Title)
	add("Date", "2024-05-01 or next friday", &f.Date)
	add("Location", "Park Gate", &f.Location)
	add("Description", "Bring water", &f.Description)

	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...).Title("New event")).Run()
}

func printAddResult(res *organizer.AddResult) {
	e := res.Event
	fmt.Printf("%s Added %s on %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(e.Title), e.Date, ui.RenderMuted(fmt.Sprintf("(id %d)", e.ID)))
	if res.Synced {
		fmt.Printf("   %s\n", ui.RenderPass("sent to peer"))
		return
	}
	fmt.Printf("   %s %v\n", ui.RenderWarn("not synced:"), res.SyncErr)
}

func eventTable(events []*models.Event) string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.Date,
			e.Title,
			e.Location,
			e.Description,
		})
	}
	return ui.Table([]string{"ID", "DATE", "TITLE", "LOCATION", "DESCRIPTION"}, rows)
}

func init() {
	eventAddCmd.Flags().Int64P("group", "g", 0, "group id")
	eventAddCmd.Flags().StringP("title", "t", "", "event title")
	eventAddCmd.Flags().StringP("date", "d", "", "event date")
	eventAddCmd.Flags().StringP("location", "l", "", "event location")
	eventAddCmd.Flags().String("description", "", "event description")

	eventListCmd.Flags().Int64P("group", "g", 0, "group id")

	eventCmd.AddCommand(eventAddCmd, eventListCmd)
	rootCmd.AddCommand(eventCmd)
}

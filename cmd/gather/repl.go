package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/ui"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. *app satisfies it.
type execIface interface {
	ID() string
	Status() string
	Connect(ctx context.Context, remoteID string) error
	CreateGroup(ctx context.Context, name string) error
	Groups(ctx context.Context) error
	AddEvent(ctx context.Context, groupID int64) error
	Events(ctx context.Context, groupID int64) error
}

const replHelp = `Commands:
  id                 show this instance's peer id
  connect <id>       link to the peer registered under <id>
  group <name>       create a group
  groups             list groups
  event <group-id>   add an event (prompts for fields)
  events <group-id>  list a group's events
  status             show peer link status
  help               show this help
  exit | quit        leave`

// runREPL reads commands from scanner until EOF, "exit" or ctx ends.
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("gather [%s]>", a.Status()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help", "?":
			printlnFn(replHelp)

		case "id":
			printlnFn("Your id:", a.ID())

		case "status":
			printlnFn(a.Status())

		case "connect":
			if len(args) != 1 {
				printlnFn("Usage: connect <id>")
				continue
			}
			err = a.Connect(ctx, args[0])

		case "group":
			if len(args) == 0 {
				printlnFn("Usage: group <name>")
				continue
			}
			err = a.CreateGroup(ctx, strings.Join(args, " "))

		case "groups":
			err = a.Groups(ctx)

		case "event", "events":
			id, ok := replGroupID(args)
			if !ok {
				printlnFn(fmt.Sprintf("Usage: %s <group-id>", cmd))
				continue
			}
			if cmd == "event" {
				err = a.AddEvent(ctx, id)
			} else {
				err = a.Events(ctx, id)
			}

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn(ui.RenderFail("error:"), err)
		}
	}
}

func replGroupID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (a *app) ID() string {
	return a.localID
}

func (a *app) Status() string {
	if s := a.coord.Active(); s != nil {
		remote := s.RemoteID()
		if remote == "" {
			remote = "inbound"
		}
		return "linked to " + remote
	}
	return "no peer"
}

func (a *app) Connect(ctx context.Context, remoteID string) error {
	printlnFn(ui.RenderMuted("connecting to " + remoteID + "..."))
	return a.org.Connect(ctx, remoteID)
}

func (a *app) CreateGroup(ctx context.Context, name string) error {
	g, err := a.org.CreateGroup(ctx, a.owner, name)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("%s Created group %s (id %d)", ui.RenderPass("✓"), ui.RenderAccent(g.Name), g.ID))
	return nil
}

func (a *app) Groups(ctx context.Context) error {
	groups, err := a.org.Groups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		printlnFn("No groups yet.")
		return nil
	}
	printlnFn(strings.TrimRight(groupTable(groups), "\n"))
	return nil
}

func (a *app) AddEvent(ctx context.Context, groupID int64) error {
	var fields models.EventFields
	if err := promptEventFields(&fields); err != nil {
		return err
	}
	res, err := a.org.AddEvent(ctx, groupID, fields)
	if err != nil {
		return err
	}
	printAddResult(res)
	return nil
}

func (a *app) Events(ctx context.Context, groupID int64) error {
	events, err := a.org.Events(ctx, groupID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		printlnFn(fmt.Sprintf("No events in group %d.", groupID))
		return nil
	}
	printlnFn(strings.TrimRight(eventTable(events), "\n"))
	return nil
}

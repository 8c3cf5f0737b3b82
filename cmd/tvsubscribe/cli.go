package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/eugenenazirov/tvsubscribe/internal/client"
	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

const defaultServer = "127.0.0.1:8443"

// clientCommands holds the parsed arguments of the commands that talk to a
// running server.
type clientCommands struct {
	server *string

	configList *kingpin.CmdClause
	configSet  *kingpin.CmdClause
	setPairs   *[]string

	subList     *kingpin.CmdClause
	subAdd      *kingpin.CmdClause
	subDel      *kingpin.CmdClause
	subTrigger  *kingpin.CmdClause
	doubanID    *string
	addRes      *int
	delDoubanID *string
	delRes      *int
	delIDs      *[]string
	triggerIDs  *[]string
}

func registerClientCommands(app *kingpin.Application) *clientCommands {
	c := &clientCommands{}
	c.server = app.Flag("url", "Address of a running tvsubscribe server").Default(defaultServer).Envar("TVSUBSCRIBE_URL").String()

	configCmd := app.Command("config", "Read or change the runtime settings")
	c.configList = configCmd.Command("list", "Print the current settings").Default()
	c.configSet = configCmd.Command("set", "Update settings")
	c.setPairs = c.configSet.Arg("pairs", "key=value pairs, e.g. cookie=... interval_minutes=30").Required().Strings()

	subCmd := app.Command("subscribe", "Manage subscriptions")
	c.subList = subCmd.Command("list", "List subscriptions").Default()

	c.subAdd = subCmd.Command("add", "Subscribe to a series")
	c.doubanID = c.subAdd.Arg("douban-id", "Douban subject ID").Required().String()
	c.addRes = c.subAdd.Flag("resolution", "0 for 2160p, 1 for 1080p").Default("1").Int()

	c.subDel = subCmd.Command("del", "Remove subscriptions")
	c.delIDs = c.subDel.Flag("id", "Subscription ID to remove (repeatable)").Strings()
	c.delDoubanID = c.subDel.Flag("douban-id", "Douban subject ID to remove").String()
	c.delRes = c.subDel.Flag("resolution", "Resolution of the Douban subscription to remove").Default("1").Int()

	c.subTrigger = subCmd.Command("trigger", "Process subscriptions now")
	c.triggerIDs = c.subTrigger.Arg("ids", "Subscription IDs").Required().Strings()

	return c
}

func (c *clientCommands) run(ctx context.Context, command string, out io.Writer) error {
	api := client.New(*c.server)

	switch command {
	case c.configList.FullCommand():
		cfg, err := api.Config(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, cfg)

	case c.configSet.FullCommand():
		updates, err := parsePairs(*c.setPairs)
		if err != nil {
			return err
		}
		cfg, err := api.SetConfig(ctx, updates)
		if err != nil {
			return err
		}
		return printJSON(out, cfg)

	case c.subList.FullCommand():
		subs, err := api.Subscriptions(ctx)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			_, err := fmt.Fprintln(out, "no subscriptions")
			return err
		}
		return printJSON(out, subs)

	case c.subAdd.FullCommand():
		sub, err := api.AddSubscription(ctx, *c.doubanID, model.Resolution(*c.addRes))
		if err != nil {
			return err
		}
		return printJSON(out, sub)

	case c.subDel.FullCommand():
		if len(*c.delIDs) > 0 {
			msg, err := api.DeleteByIDs(ctx, *c.delIDs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, msg)
			return err
		}
		if *c.delDoubanID == "" {
			return errors.New("either --id or --douban-id is required")
		}
		if err := api.DeleteSubscription(ctx, *c.delDoubanID, model.Resolution(*c.delRes)); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "subscription deleted")
		return err

	case c.subTrigger.FullCommand():
		result, err := api.Trigger(ctx, *c.triggerIDs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "triggered %d of %d subscriptions\n", result.Triggered, result.Requested)
		return err
	}

	return fmt.Errorf("unknown command %q", command)
}

// parsePairs turns key=value arguments into a settings update. Whole numbers
// are sent as numbers so interval_minutes validates server side.
func parsePairs(args []string) (map[string]any, error) {
	updates := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", arg)
		}
		if n, err := strconv.Atoi(value); err == nil && key == "interval_minutes" {
			updates[key] = n
			continue
		}
		updates[key] = value
	}
	return updates, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

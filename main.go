package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IMQS/cli"
	"github.com/IMQS/fulltext/fulltext"
	"github.com/IMQS/fulltext/server"
	"github.com/IMQS/gowinsvc/service"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	app := cli.App{}
	app.Description = "imqs-fulltext -c=configfile [options] command"
	app.DefaultExec = exec
	app.AddCommand("run", "Run the full-text search service")
	app.AddCommand("search", "Search one type from the command line", "type", "...term")
	app.AddCommand("reindex", "Rebuild the index\nIf no types are specified, then perform an auto rebuild, which reindexes "+
		"all types whose configuration has changed, and erases types that are no longer configured. This is used in "+
		"combination with the DisableAutoIndexRebuild config option.", "...type")
	app.AddCommand("vacuum", "Optimize the index table")
	app.AddCommand("purge", "Remove index entries whose entities no longer exist")
	app.AddValueOption("c", "configfile", "Configuration file if not using the configuration service")
	os.Exit(app.Run())
}

func exec(cmdName string, args []string, options cli.OptionSet) int {
	configFile := options["c"]

	engine := server.Engine{}
	engine.ConfigFile = configFile

	err := engine.LoadConfigFromFile()
	if err != nil {
		fmt.Printf("Error loading full-text config: %v\n", err)
		return 1
	}

	err = engine.Initialize()
	if err != nil {
		if engine.ErrorLog != nil {
			engine.ErrorLog.Error(err.Error())
		}
		fmt.Printf("Error initializing full-text engine: %v\n", err)
		return 1
	}
	defer engine.Close()

	run := func() {
		go engine.StartStateWatcher()
		config := engine.GetConfig()
		if !config.DisableAutoIndexRebuild {
			go engine.StartAutoRebuilder()
		}
		engine.StartAutoVacuum()
		err = engine.RunHttp()
		if err != nil {
			engine.ErrorLog.Errorf("Error running HTTP server: %v\n", err)
		}
	}

	start := time.Now()
	ctx := context.Background()

	switch cmdName {
	case "run":
		if !service.RunAsService(run) {
			run()
		}
	case "search":
		if len(args) == 0 {
			fmt.Printf("search needs a type\n")
			return 1
		}
		var res *server.SearchResult
		res, err = engine.Search(ctx, args[0], strings.Join(args[1:], " "), fulltext.Options{}, true)
		if err == nil {
			fmt.Printf("%-20v %8v %s\n", "Type", "ID", "Tokens")
			for _, r := range res.Records {
				fmt.Printf("%-20v %8v %s\n", r.Type, r.ID, r.Index.Tokens)
			}
		}
	case "reindex":
		if len(args) == 0 {
			fmt.Printf("Performing auto rebuild. See log for details.\n")
			err = engine.AutoRebuild(ctx)
		} else {
			var n int
			n, err = engine.Reindex(ctx, args)
			fmt.Printf("Reindexed %v entities\n", n)
		}
	case "vacuum":
		err = engine.Vacuum()
	case "purge":
		var n int64
		n, err = engine.PurgeOrphans(ctx)
		fmt.Printf("Purged %v index entries\n", n)
	default:
		fmt.Printf("Unknown command %v\n", cmdName)
		return 1
	}

	if err == nil {
		fmt.Printf("Finished in %.3v seconds\n", time.Now().Sub(start).Seconds())
		return 0
	} else {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
}

// chio-init creates or updates the bot's database schema and optionally
// seeds a role assignment, without connecting to Discord.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
	"github.com/chiobot/chio/extensions/activity"
	"github.com/chiobot/chio/extensions/nya"
	"github.com/chiobot/chio/extensions/rep"
	"github.com/chiobot/chio/extensions/shop"
	"github.com/chiobot/chio/extensions/stats"
	"github.com/chiobot/chio/guilds"
	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/roles"
)

func main() {
	var dsn, envfile, reason string
	var grant int64
	var level int
	flag.StringVar(&dsn, "dsn", "", "Postgres connection string; overrides DB_DSN")
	flag.StringVar(&envfile, "env", ".env", "environment file")
	flag.Int64Var(&grant, "grant", 0, "user ID to grant a role to after schema setup")
	flag.IntVar(&level, "level", int(roles.Moderator), "role level for -grant")
	flag.StringVar(&reason, "reason", "granted by chio-init", "reason recorded for -grant")
	flag.Parse()

	env, err := godotenv.Read(envfile)
	if err != nil {
		log.Println("unable to read", envfile+":", err)
		env = map[string]string{}
	}
	if dsn == "" {
		dsn = env["DB_DSN"]
	}
	if dsn == "" {
		log.Fatal("no DSN; set -dsn or DB_DSN")
	}

	ctx := context.Background()
	db := chiodb.New(dsn)
	if err := db.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	b := bus.New()
	store := roles.NewStore(db, b, 0)
	for _, t := range []chiodb.Table{store, guilds.NewChannels(db)} {
		if err := db.Register(t); err != nil {
			log.Fatal(err)
		}
	}
	penv := plugin.Env{DB: db, Bus: b, Container: deps.NewContainer()}
	for _, f := range []plugin.Factory{activity.New, nya.New, rep.New, shop.New, stats.New} {
		for _, t := range f(penv).Tables {
			if err := db.Register(t); err != nil {
				log.Fatal(err)
			}
		}
	}
	if err := db.CreateTables(ctx); err != nil {
		log.Fatal(err)
	}
	log.Println("tables ready:", db.Tables())

	if grant != 0 {
		r, err := store.SetRole(ctx, grant, 0, roles.Level(level), reason)
		if err != nil {
			log.Fatal(err)
		}
		log.Println("granted", r.Level, "to", r.UserID)
	}
}

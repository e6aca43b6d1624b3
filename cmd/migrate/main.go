package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"polyatop/backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	databaseURL := flag.String("database", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [-database URL] up|down [N]|version|force V")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *databaseURL == "" || flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := db.NewMigrator(*databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch flag.Arg(0) {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if flag.NArg() > 1 {
			steps, err = strconv.Atoi(flag.Arg(1))
			if err != nil || steps <= 0 {
				fmt.Fprintln(os.Stderr, "down expects a positive step count")
				os.Exit(2)
			}
		}
		err = m.Steps(-steps)
	case "force":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		version, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			fmt.Fprintln(os.Stderr, "force expects a version number")
			os.Exit(2)
		}
		err = m.Force(version)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", verr)
			os.Exit(1)
		}
		fmt.Printf("version %d dirty=%v\n", version, dirty)
		return
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/assignment"
	"github.com/writeonenglish/woe/core/user"
	logsvc "github.com/writeonenglish/woe/services/logger"
	"github.com/writeonenglish/woe/storage/database"
	"github.com/writeonenglish/woe/storage/database/sqlxdb"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	// set up DB
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout*6)
	defer cancel()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close() //nolint:errcheck

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger, filepath.Join("config", "common-passwords.txt.gz"))

	// start CLI
	cli := commandLine{
		db:       db,
		usrSvc:   user.NewService(sqlxdb.NewUserRepository(db)),
		asgSvc:   assignment.NewService(sqlxdb.NewAssignmentRepository(db)),
		validate: validate,
		out:      os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		logger.Close()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/writeonenglish/woe/core/user"
)

// addUser creates an active user.User from the admin tools.
func (cli *commandLine) addUser(nu user.NewUser) error {
	if err := nu.Validate(cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s created\n", usr.ID)
	return nil
}
